package worker

import "testing"

func TestCalculateOptimalWorkers(t *testing.T) {
	const min, max = 2, 20

	tests := []struct {
		name    string
		depth   int
		busy    int
		current int
		want    int
	}{
		{"empty queue collapses to min", 0, 0, 10, 2},
		{"empty queue from min stays", 0, 0, 2, 2},
		{"deep backlog steps up by five", 40, 5, 8, 13},
		{"step up clamps at max", 100, 18, 18, 20},
		{"shallow queue steps down by three", 2, 5, 12, 9},
		{"step down clamps at min", 1, 3, 4, 3},
		{"steady state unchanged", 10, 5, 8, 8},
		{"never below busy workers", 0, 6, 10, 6},
		{"scale down never below busy", 2, 8, 12, 9},
	}

	for _, tt := range tests {
		got := calculateOptimalWorkers(tt.depth, tt.busy, tt.current, min, max)
		if got != tt.want {
			t.Errorf("%s: calculateOptimalWorkers(%d, %d, %d) = %d, want %d",
				tt.name, tt.depth, tt.busy, tt.current, got, tt.want)
		}
	}
}
