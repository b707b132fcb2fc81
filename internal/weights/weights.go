// Package weights reads weights from and writes them to the places named by
// sync source and target lines.
package weights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/okian/scaleconnect/internal/accounts"
	"github.com/okian/scaleconnect/pkg/core"
	"github.com/okian/scaleconnect/pkg/csv"
	"github.com/okian/scaleconnect/pkg/fitbit"
)

const (
	formatCSV    = "csv"
	formatJSON   = "json"
	formatLatest = "json/latest"
	formatFitbit = "fitbit"
	stdout       = "stdout"
)

var (
	// ErrUnsupportedType is returned for an unknown source or target type.
	ErrUnsupportedType = accounts.ErrUnsupportedType
	// ErrWrongFrom is returned for a source that is neither a line, an object nor a list.
	ErrWrongFrom = errors.New("wrong from format")
	// ErrReadOnly is returned for a target account that cannot store weights.
	ErrReadOnly = errors.New("account does not accept weights")
)

// Accounts resolves "type user pass ..." fields to a logged-in account.
type Accounts interface {
	Get(ctx context.Context, fields []string) (core.Account, error)
}

// Service moves weights between files, URLs and vendor accounts.
type Service struct {
	accounts Accounts
	client   *http.Client
	stdout   io.Writer
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient sets the client used for URL sources and targets.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithStdout redirects "stdout" targets.
func WithStdout(w io.Writer) Option {
	return func(s *Service) { s.stdout = w }
}

// WithClock sets the time given to weight objects without a date.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(acc Accounts, opts ...Option) *Service {
	s := &Service{
		accounts: acc,
		client:   &http.Client{Timeout: time.Minute},
		stdout:   os.Stdout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetWeights loads weights from a source line, a single weight object or a
// list of weight objects.
func (s *Service) GetWeights(ctx context.Context, from any) ([]*core.Weight, error) {
	switch v := from.(type) {
	case string:
		return s.getWeights(ctx, v)

	case map[string]any:
		var w *core.Weight
		if err := remarshal(v, &w); err != nil {
			return nil, err
		}
		if w.Date.IsZero() {
			w.Date = s.now()
		}
		return []*core.Weight{w}, nil

	case []any:
		var weights []*core.Weight
		if err := remarshal(v, &weights); err != nil {
			return nil, err
		}
		return weights, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrWrongFrom, from)
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *Service) getWeights(ctx context.Context, line string) ([]*core.Weight, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: %q", ErrWrongFrom, line)
	}

	switch fields[0] {
	case formatCSV:
		rd, err := s.open(ctx, fields[1])
		if err != nil {
			return nil, err
		}
		defer rd.Close()

		return csv.Read(rd)

	case formatJSON:
		rd, err := s.open(ctx, fields[1])
		if err != nil {
			return nil, err
		}
		defer rd.Close()

		var weights []*core.Weight
		if err = json.NewDecoder(rd).Decode(&weights); err != nil {
			return nil, err
		}
		return weights, nil

	case formatFitbit:
		return fitbit.Read(fields[1])

	case accounts.Xiaomi, accounts.MiFitness, accounts.Picooc:
		acc, err := s.accounts.Get(ctx, fields)
		if err != nil {
			return nil, err
		}
		if len(fields) < 4 {
			return acc.GetAllWeights(ctx)
		}
		filter, ok := acc.(core.AccountWithFilter)
		if !ok {
			return nil, fmt.Errorf("%s: filter not supported", fields[0])
		}
		return filter.GetFilterWeights(ctx, fields[3])

	case accounts.XiaomiHome:
		if len(fields) < 5 {
			return nil, fmt.Errorf("%w: %s needs region and model", ErrWrongFrom, fields[0])
		}
		acc, err := s.accounts.Get(ctx, fields)
		if err != nil {
			return nil, err
		}
		model, ok := acc.(core.AccountWithModel)
		if !ok {
			return nil, fmt.Errorf("%s: model not supported", fields[0])
		}
		return model.GetModelWeights(ctx, fields[3], fields[4])
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, fields[0])
}

// SetWeights writes weights to a target line.
func (s *Service) SetWeights(ctx context.Context, to string, src []*core.Weight) error {
	fields := strings.Fields(to)
	if len(fields) < 2 {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, to)
	}

	switch fields[0] {
	case formatCSV, formatJSON:
		return s.writeFile(ctx, fields[0], fields[1], src)
	case formatLatest:
		return s.postLatest(ctx, fields[1], src)
	case accounts.Xiaomi, accounts.MiFitness, accounts.XiaomiHome, accounts.Picooc:
		return s.appendAccount(ctx, fields, src)
	}

	return fmt.Errorf("%w: %s", ErrUnsupportedType, fields[0])
}

func (s *Service) open(ctx context.Context, path string) (io.ReadCloser, error) {
	if !strings.Contains(path, "://") {
		return os.Open(path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		_ = res.Body.Close()
		return nil, fmt.Errorf("get %s: %s", path, res.Status)
	}
	return res.Body, nil
}

func (s *Service) writeFile(ctx context.Context, format, filename string, src []*core.Weight) error {
	if strings.Contains(filename, "://") {
		return s.postFile(ctx, format, filename, src)
	}

	if filename == stdout {
		return encode(s.stdout, format, prepareFile(src))
	}

	// The current content must be read before the file is truncated. A
	// missing or empty file holds no weights.
	dst, err := s.getWeights(ctx, format+" "+filename)
	if err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read %s: %w", filename, err)
	}
	dst = appendFile(dst, src)

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	return encode(f, format, dst)
}

func encode(w io.Writer, format string, weights []*core.Weight) error {
	if format == formatCSV {
		return csv.Write(w, weights)
	}
	return json.NewEncoder(w).Encode(weights)
}

// appendFile merges src into dst by Date second: a zero Weight removes the
// entry, a differing one replaces it, a new one is added. The result is
// sorted oldest first.
func appendFile(dst, src []*core.Weight) []*core.Weight {
	for _, w := range src {
		i := slices.IndexFunc(dst, func(d *core.Weight) bool {
			return w.Date.Unix() == d.Date.Unix()
		})

		switch {
		case i >= 0 && w.Weight == 0:
			dst = slices.Delete(dst, i, i+1)
		case i >= 0 && !core.Equal(w, dst[i]):
			dst[i] = w
		case i < 0 && w.Weight > 0:
			dst = append(dst, w)
		}
	}

	slices.SortStableFunc(dst, func(a, b *core.Weight) int {
		return a.Date.Compare(b.Date)
	})

	return dst
}

// appendAccount merges src into a vendor account the way appendFile merges
// into a file: a zero Weight deletes the stored measurement of the same
// second, a differing one replaces it, a new one is added.
func (s *Service) appendAccount(ctx context.Context, fields []string, src []*core.Weight) error {
	acc, err := s.accounts.Get(ctx, fields)
	if err != nil {
		return err
	}

	target, ok := acc.(core.AccountWithAddWeights)
	if !ok {
		return fmt.Errorf("%w: %s", ErrReadOnly, fields[0])
	}

	dst, err := acc.GetAllWeights(ctx)
	if err != nil {
		return err
	}

	var add []*core.Weight

	for _, w := range src {
		i := slices.IndexFunc(dst, func(d *core.Weight) bool {
			return w.Date.Unix() == d.Date.Unix()
		})

		switch {
		case i >= 0 && w.Weight == 0:
			err = target.DeleteWeight(ctx, dst[i])
		case i >= 0 && !target.Equal(w, dst[i]):
			err = target.DeleteWeight(ctx, dst[i])
			add = append(add, w)
		case i < 0 && w.Weight > 0:
			add = append(add, w)
		}
		if err != nil {
			return err
		}
	}

	if len(add) == 0 {
		return nil
	}

	return target.AddWeights(ctx, add)
}

// prepareFile drops zero weights and sorts the rest oldest first.
func prepareFile(src []*core.Weight) []*core.Weight {
	dst := make([]*core.Weight, 0, len(src))
	for _, w := range src {
		if w.Weight != 0 {
			dst = append(dst, w)
		}
	}

	slices.SortStableFunc(dst, func(a, b *core.Weight) int {
		return a.Date.Compare(b.Date)
	})

	return dst
}

func (s *Service) postFile(ctx context.Context, format, url string, src []*core.Weight) error {
	var body bytes.Buffer
	if err := encode(&body, format, prepareFile(src)); err != nil {
		return err
	}

	contentType := "application/json"
	if format == formatCSV {
		contentType = "text/csv"
	}
	return s.post(ctx, url, contentType, &body)
}

// postLatest sends the newest non-zero weight as a JSON object.
func (s *Service) postLatest(ctx context.Context, url string, src []*core.Weight) error {
	var latest *core.Weight
	for _, w := range src {
		if w.Weight != 0 && (latest == nil || w.Date.After(latest.Date)) {
			latest = w
		}
	}
	if latest == nil {
		return nil
	}

	data, err := json.Marshal(latest)
	if err != nil {
		return err
	}
	return s.post(ctx, url, "application/json", bytes.NewReader(data))
}

func (s *Service) post(ctx context.Context, url, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("post %s: %s", url, res.Status)
	}
	return nil
}
