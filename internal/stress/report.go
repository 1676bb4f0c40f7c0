package stress

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"
)

// Report writes a table of results to w and returns the number of failed
// scenarios.
func Report(w io.Writer, results []Result) (int, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	failed := 0
	fmt.Fprintf(buf, "%-16s %7s %12s %10s %12s  %s\n", "SCENARIO", "WORKERS", "OPS", "RETRIES", "ELAPSED", "STATUS")
	for _, r := range results {
		status := "ok"
		if !r.Passed() {
			failed++
			status = "FAIL: " + strings.ReplaceAll(r.Err.Error(), "\n", "; ")
		}
		fmt.Fprintf(buf, "%-16s %7d %12d %10d %12s  %s\n",
			r.Scenario, r.Workers, r.Ops, r.Retries, r.Elapsed.Round(time.Microsecond), status)
	}
	fmt.Fprintf(buf, "%d scenarios, %d failed\n", len(results), failed)
	_, err := w.Write(buf.B)
	return failed, err
}
