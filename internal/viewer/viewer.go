// Package viewer hands a ready endpoint to the operator.
package viewer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/browser"
)

// Viewer displays an endpoint address.
type Viewer interface {
	Open(url string) error
}

// Browser opens URLs with the desktop's default browser. Build it with
// NewBrowser so the opener command's output is discarded.
type Browser struct{}

var quietOpener sync.Once

// NewBrowser returns a Browser. The opener's output streams are package
// globals of pkg/browser and are silenced once per process.
func NewBrowser() Browser {
	quietOpener.Do(func() {
		browser.Stdout = io.Discard
		browser.Stderr = io.Discard
	})
	return Browser{}
}

func (Browser) Open(url string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("empty url")
	}
	if err := browser.OpenURL(url); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	return nil
}

// Print writes the URL to Out instead of opening a window.
type Print struct {
	Out io.Writer
}

func (p Print) Open(url string) error {
	if p.Out == nil {
		return nil
	}
	_, err := fmt.Fprintf(p.Out, "open %s\n", url)
	return err
}

// Func adapts a function to Viewer.
type Func func(url string) error

func (f Func) Open(url string) error { return f(url) }

// New returns a Print viewer when noBrowser is set and a Browser otherwise.
func New(noBrowser bool, out io.Writer) Viewer {
	if noBrowser {
		return Print{Out: out}
	}
	return NewBrowser()
}
