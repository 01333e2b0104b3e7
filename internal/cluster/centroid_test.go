package cluster

import (
	"math"
	"reflect"
	"testing"
)

func TestUpdateCentroidMatchesExactMean(t *testing.T) {
	t.Parallel()

	embeddings := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{1, 1, 1},
	}

	var running []float32
	for i, embedding := range embeddings {
		running = UpdateCentroid(running, i, embedding)
	}

	exact := MeanCentroid(embeddings)
	for i := range exact {
		if math.Abs(float64(running[i]-exact[i])) > 1e-5 {
			t.Fatalf("component %d: running = %v, exact = %v", i, running[i], exact[i])
		}
	}
}

func TestUpdateCentroid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		centroid  []float32
		count     int
		embedding []float32
		want      []float32
	}{
		{
			name:      "first embedding starts the centroid",
			centroid:  nil,
			count:     0,
			embedding: []float32{2, 4},
			want:      []float32{2, 4},
		},
		{
			name:      "second embedding averages",
			centroid:  []float32{2, 4},
			count:     1,
			embedding: []float32{4, 0},
			want:      []float32{3, 2},
		},
		{
			name:      "dimension mismatch restarts",
			centroid:  []float32{1, 2, 3},
			count:     5,
			embedding: []float32{7, 7},
			want:      []float32{7, 7},
		},
		{
			name:      "empty embedding is a no-op",
			centroid:  []float32{1, 2},
			count:     3,
			embedding: nil,
			want:      []float32{1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := UpdateCentroid(tt.centroid, tt.count, tt.embedding)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("UpdateCentroid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMeanCentroidSkipsMismatchedDimensions(t *testing.T) {
	t.Parallel()

	got := MeanCentroid([][]float32{
		{2, 2},
		{1, 2, 3},
		{4, 6},
	})
	want := []float32{3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("MeanCentroid() = %v, want %v", got, want)
	}

	if got := MeanCentroid(nil); got != nil {
		t.Fatalf("MeanCentroid(nil) = %v, want nil", got)
	}
}

func TestTopEntityIDs(t *testing.T) {
	t.Parallel()

	counter := map[string]int{
		"CHARLIE": 3,
		"ALPHA":   5,
		"DELTA":   3,
		"BRAVO":   5,
		"ECHO":    1,
	}

	want := []string{"ALPHA", "BRAVO", "CHARLIE", "DELTA"}
	got := TopEntityIDs(counter, 4)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("TopEntityIDs() = %v, want %v", got, want)
	}

	// Same input must project identically on every call.
	for i := 0; i < 20; i++ {
		if again := TopEntityIDs(counter, 4); !reflect.DeepEqual(again, got) {
			t.Fatalf("projection changed between calls: %v vs %v", again, got)
		}
	}

	if got := TopEntityIDs(nil, 5); len(got) != 0 {
		t.Fatalf("TopEntityIDs(nil) = %v, want empty", got)
	}
	if got := TopEntityIDs(counter, 0); len(got) != 0 {
		t.Fatalf("TopEntityIDs(n=0) = %v, want empty", got)
	}
}

func TestCountEntities(t *testing.T) {
	t.Parallel()

	got := CountEntities([][]string{
		{"ALPHA", "BRAVO"},
		{"ALPHA"},
		{"BRAVO", "CHARLIE"},
	})
	want := map[string]int{"ALPHA": 2, "BRAVO": 2, "CHARLIE": 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CountEntities() = %v, want %v", got, want)
	}
}
