package process

import (
	"context"
	"io"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hnmirror/hn-mirror/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeFetcher serves canned bodies and errors and records every requested URL
type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	called []string
	block  map[string]bool // URLs that wait for ctx cancellation
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, errs: map[string]error{}, block: map[string]bool{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	f.mu.Lock()
	f.called = append(f.called, rawURL)
	body, ok := f.pages[rawURL]
	err := f.errs[rawURL]
	block := f.block[rawURL]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", &utils.FetchError{URL: rawURL, Err: ctx.Err()}
	}
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &utils.FetchError{URL: rawURL, Err: utils.WrapErrorf(utils.ErrHTTPStatus, "status 404 Not Found")}
	}
	return body, nil
}

func (f *fakeFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.called...)
}

// denyRobots disallows every link on one host
type denyRobots struct{ host string }

func (d denyRobots) Allowed(_ context.Context, target *url.URL) bool {
	return target.Hostname() != d.host
}
