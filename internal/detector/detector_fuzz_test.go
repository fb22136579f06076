package detector

import (
	"os"
	"testing"

	"github.com/loykin/apprun/internal/runstate"
)

// FuzzPIDFileDetectorContent ensures PIDFileDetector.Alive does not panic
// on arbitrary file contents and various sizes.
func FuzzPIDFileDetectorContent(f *testing.F) {
	f.Add([]byte("123\n"))
	f.Add([]byte("not-a-number"))
	f.Add([]byte("\n\n"))
	f.Add([]byte("1\n{\"start\":1}\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		st := runstate.NewFileStore(t.TempDir())
		_ = os.WriteFile(st.PIDPath(), data, 0o600)
		d := PIDFileDetector{Store: st}
		_, _ = d.Alive() // must not panic
	})
}
