package source

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseStateTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{
			name: "escaped colons",
			input: `#Sat Jan 15 12:00:00 UTC 2024
sequenceNumber=12345
timestamp=2024-01-15T12\:00\:00Z`,
			want: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		},
		{
			name:  "whitespace and plain colons",
			input: "  timestamp = 2024-06-20T08:30:00Z  \n",
			want:  time.Date(2024, 6, 20, 8, 30, 0, 0, time.UTC),
		},
		{
			name:  "space separated",
			input: "timestamp=2024-03-10 15:45:00",
			want:  time.Date(2024, 3, 10, 15, 45, 0, 0, time.UTC),
		},
		{
			name:    "invalid timestamp",
			input:   "timestamp=yesterday",
			wantErr: true,
		},
		{
			name:    "missing timestamp",
			input:   "sequenceNumber=1",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStateTimestamp(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("timestamp = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadStateTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.txt")
	if err := os.WriteFile(path, []byte("timestamp=2020-02-02T02\\:02\\:02Z\n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadStateTimestamp(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(time.Date(2020, 2, 2, 2, 2, 2, 0, time.UTC)) {
		t.Errorf("timestamp = %v", got)
	}

	if _, err := ReadStateTimestamp(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
