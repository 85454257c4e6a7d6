package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/lox/biogasreport/internal/metrics"
)

// FTPConfig points at the directory the remote-access platform drops
// monthly CSV exports into.
type FTPConfig struct {
	Addr     string
	User     string
	Password string
	Dir      string
	Timeout  time.Duration
	// MaxElapsed bounds the total time spent retrying one operation.
	MaxElapsed time.Duration
}

type FTPSource struct {
	cfg FTPConfig
}

// Export is one CSV file on the server.
type Export struct {
	Name     string
	Path     string
	Size     uint64
	Modified time.Time
}

func NewFTPSource(cfg FTPConfig) *FTPSource {
	if cfg.User == "" {
		cfg.User = "anonymous"
		cfg.Password = "anonymous"
	}
	if cfg.Dir == "" {
		cfg.Dir = "/"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 2 * time.Minute
	}
	return &FTPSource{cfg: cfg}
}

func (f *FTPSource) dial(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(f.cfg.Addr, ftp.DialWithTimeout(f.cfg.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	if err := conn.Login(f.cfg.User, f.cfg.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}
	return conn, nil
}

// List returns the CSV exports in the configured directory, newest first.
func (f *FTPSource) List(ctx context.Context) ([]Export, error) {
	var entries []*ftp.Entry
	err := f.retry(ctx, "list", func() error {
		conn, err := f.dial(ctx)
		if err != nil {
			return classify(err)
		}
		defer conn.Quit()

		entries, err = conn.List(f.cfg.Dir)
		if err != nil {
			return classify(fmt.Errorf("ftp list: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exportsFrom(f.cfg.Dir, entries), nil
}

// Fetch retrieves one export by name.
func (f *FTPSource) Fetch(ctx context.Context, name string) ([]byte, error) {
	p := path.Join(f.cfg.Dir, name)
	var body []byte
	err := f.retry(ctx, "retr", func() error {
		conn, err := f.dial(ctx)
		if err != nil {
			return classify(err)
		}
		defer conn.Quit()

		resp, err := conn.Retr(p)
		if err != nil {
			return classify(fmt.Errorf("ftp retr %s: %w", p, err))
		}
		defer resp.Close()

		body, err = io.ReadAll(resp)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("ingest: fetched %s (%d bytes)", p, len(body))
	return body, nil
}

// Latest returns the newest export whose file name mentions installationID.
func (f *FTPSource) Latest(ctx context.Context, installationID string) (Export, error) {
	exports, err := f.List(ctx)
	if err != nil {
		return Export{}, err
	}
	e, ok := latestFor(exports, installationID)
	if !ok {
		return Export{}, fmt.Errorf("no export for %s in %s", installationID, f.cfg.Dir)
	}
	return e, nil
}

func (f *FTPSource) retry(ctx context.Context, op string, operation func() error) error {
	start := time.Now()
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = f.cfg.MaxElapsed

	err := backoff.Retry(operation, backoff.WithContext(bo, ctx))
	metrics.FTPFetchLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FTPFetchesTotal.WithLabelValues(op, "error").Inc()
		return err
	}
	metrics.FTPFetchesTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

// classify marks server replies that will not change on retry as permanent.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case ftp.StatusNotLoggedIn, ftp.StatusFileUnavailable, ftp.StatusNotImplemented:
			return backoff.Permanent(err)
		}
	}
	return err
}

func exportsFrom(dir string, entries []*ftp.Entry) []Export {
	var out []Export
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile || !strings.EqualFold(path.Ext(e.Name), ".csv") {
			continue
		}
		out = append(out, Export{
			Name:     e.Name,
			Path:     path.Join(dir, e.Name),
			Size:     e.Size,
			Modified: e.Time,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Modified.After(out[j].Modified) })
	return out
}

func latestFor(exports []Export, installationID string) (Export, bool) {
	id := strings.ToLower(installationID)
	for _, e := range exports {
		if strings.Contains(strings.ToLower(e.Name), id) {
			return e, true
		}
	}
	return Export{}, false
}
