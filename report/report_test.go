package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/m-lab/echo-probe/roundtrip"
)

func TestWrite(t *testing.T) {
	sep := strings.Repeat("-", 37)
	tests := []struct {
		name    string
		samples []int64
		want    string
	}{
		{
			name:    "no samples",
			samples: nil,
			want:    sep + "\n" + sep + "\n",
		},
		{
			name:    "a few samples",
			samples: []int64{9, 42, 7},
			want:    sep + "\n9\n42\n7\n" + sep + "\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Write(&buf, tt.samples); err != nil {
				t.Fatalf("Write returned %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Write produced %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWritePreservesSampleOrder(t *testing.T) {
	samples := []int64{5, 1, 4, 2, 3}
	var buf bytes.Buffer
	if err := Write(&buf, samples); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != len(samples)+2 {
		t.Fatalf("dump has %d lines, want %d", len(lines), len(samples)+2)
	}
	want := []string{"5", "1", "4", "2", "3"}
	if got := lines[1 : len(lines)-1]; !reflect.DeepEqual(got, want) {
		t.Errorf("samples were dumped as %v, want %v", got, want)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name    string
		samples []int64
		want    Summary
	}{
		{"empty", nil, Summary{}},
		{"single", []int64{10}, Summary{Count: 1, Min: 10, Median: 10, Max: 10, Mean: 10}},
		{
			"unsorted input",
			[]int64{30, 10, 20},
			Summary{Count: 3, Min: 10, Median: 20, Max: 30, Mean: 20},
		},
		{
			"even count",
			[]int64{1, 2, 3, 4},
			Summary{Count: 4, Min: 1, Median: 3, Max: 4, Mean: 2.5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.samples); got != tt.want {
				t.Errorf("Summarize(%v) = %+v, want %+v", tt.samples, got, tt.want)
			}
		})
	}
}

func TestSummarizeDoesNotReorderTheInput(t *testing.T) {
	samples := []int64{3, 1, 2}
	Summarize(samples)
	if !reflect.DeepEqual(samples, []int64{3, 1, 2}) {
		t.Errorf("Summarize reordered its input to %v", samples)
	}
}

func TestSaveAndReload(t *testing.T) {
	datadir := t.TempDir()
	record := &roundtrip.Result{
		SchemaVersion: roundtrip.CurrentSchemaVersion,
		UUID:          "test-uuid-0001",
		StartTime:     time.Date(2023, 4, 5, 6, 7, 8, 0, time.UTC),
		EndTime:       time.Date(2023, 4, 5, 6, 7, 9, 0, time.UTC),
		Protocol:      "tcp",
		PayloadSize:   64,
		MessageCount:  3,
		BytesEchoed:   192,
		Samples:       []int64{11, 22, 33},
	}
	Save(record, datadir)

	name := path.Join(datadir, "2023/04/05", record.UUID+".json")
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("the record was not saved where expected: %v", err)
	}
	var got roundtrip.Result
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("the saved record is not JSON: %v", err)
	}
	if !reflect.DeepEqual(&got, record) {
		t.Errorf("reloaded record %+v differs from the original %+v", got, record)
	}
}

func TestSaveWithoutUUIDStillWritesAFile(t *testing.T) {
	datadir := t.TempDir()
	record := &roundtrip.Result{StartTime: time.Date(2023, 4, 5, 0, 0, 0, 0, time.UTC)}
	Save(record, datadir)
	entries, err := os.ReadDir(path.Join(datadir, "2023/04/05"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".json") {
		t.Errorf("expected one .json file, found %v", entries)
	}
}

func TestSaveWithoutDatadirDoesNothing(t *testing.T) {
	// Must not create anything or crash.
	Save(&roundtrip.Result{UUID: "x"}, "")
	Save(nil, t.TempDir())
}
