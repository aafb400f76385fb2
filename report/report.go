// Package report turns a measurement run into its user-facing
// outputs: the raw sample dump on stdout, a condensed summary, and the
// archival JSON record on disk.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/m-lab/go/warnonerror"
	"golang.org/x/exp/slices"

	"github.com/m-lab/echo-probe/logging"
	"github.com/m-lab/echo-probe/roundtrip"
)

// separator brackets the sample dump, one line above and one below.
// Downstream tooling scrapes the dump by looking for these lines, so
// the exact text matters.
const separator = "-------------------------------------"

// Write dumps the samples to w, one decimal tick count per line,
// bracketed by two separator lines.
func Write(w io.Writer, samples []int64) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, separator); err != nil {
		return err
	}
	for _, s := range samples {
		if _, err := fmt.Fprintf(bw, "%d\n", s); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(bw, separator); err != nil {
		return err
	}
	return bw.Flush()
}

// Summary condenses a run's samples. All durations are in counter
// ticks, like the samples themselves.
type Summary struct {
	Count  int
	Min    int64
	Median int64
	Max    int64
	Mean   float64
}

// Summarize computes the Summary of samples. A run with no samples
// summarizes to the zero Summary.
func Summarize(samples []int64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	var sum int64
	for _, s := range sorted {
		sum += s
	}
	return Summary{
		Count:  len(samples),
		Min:    sorted[0],
		Median: sorted[len(sorted)/2],
		Max:    sorted[len(sorted)-1],
		Mean:   float64(sum) / float64(len(sorted)),
	}
}

// Save archives the record to disk under
// datadir/yyyy/mm/dd/<uuid>.json. An empty datadir disables archiving.
// Archiving is best effort: problems are logged, never fatal.
func Save(record *roundtrip.Result, datadir string) {
	if datadir == "" {
		return
	}
	if record == nil {
		logging.Logger.Warn("nil record won't be saved")
		return
	}
	dir := path.Join(datadir, record.StartTime.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0777); err != nil {
		logging.Logger.WithError(err).Warnf("Could not create directory %s", dir)
		return
	}
	file, err := uuidToFile(dir, record.UUID)
	if err != nil {
		logging.Logger.WithError(err).Warn("Could not open the archival file")
		return
	}
	defer warnonerror.Close(file, "Could not close "+file.Name())
	if err := json.NewEncoder(file).Encode(record); err != nil {
		logging.Logger.WithError(err).Warnf("Could not encode the record to %s", file.Name())
		return
	}
	logging.Logger.Infof("Wrote %s", file.Name())
}

// uuidToFile converts a UUID into a newly-created open file with the
// extension '.json'.
func uuidToFile(dir, uuid string) (*os.File, error) {
	if uuid == "" {
		return os.CreateTemp(dir, "UNKNOWN_UUID_*.json")
	}
	return os.Create(path.Join(dir, uuid+".json"))
}
