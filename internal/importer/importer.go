// Package importer loads a pressure column from a CSV export, either a
// local file or a file dropped on an FTP server.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	log "github.com/sirupsen/logrus"

	"github.com/lox/gaspvt/internal/sparse"
)

const defaultFTPTimeout = 30 * time.Second

// Source yields a CSV document.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// FileSource reads a local file.
type FileSource struct {
	Path string
}

func (f FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(f.Path)
}

func (f FileSource) String() string {
	return f.Path
}

// FTPSource retrieves a file from an FTP server.
type FTPSource struct {
	Addr     string // host:port
	Path     string
	User     string
	Password string
	Timeout  time.Duration
}

func (f FTPSource) String() string {
	return "ftp://" + f.Addr + f.Path
}

func (f FTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultFTPTimeout
	}
	conn, err := ftp.Dial(f.Addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}

	user, pass := f.User, f.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(f.Path)
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp retr: %w", err)
	}
	return &ftpFile{resp: resp, conn: conn}, nil
}

type ftpFile struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (f *ftpFile) Read(p []byte) (int, error) {
	return f.resp.Read(p)
}

func (f *ftpFile) Close() error {
	err := f.resp.Close()
	if qerr := f.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}

// ParseLocation turns a path or an ftp:// URL into a Source. FTP URLs
// without credentials log in anonymously; the port defaults to 21.
func ParseLocation(loc string) (Source, error) {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return nil, errors.New("empty input location")
	}
	if !strings.HasPrefix(strings.ToLower(loc), "ftp://") {
		return FileSource{Path: loc}, nil
	}

	u, err := url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", loc, err)
	}
	if u.Host == "" || u.Path == "" || u.Path == "/" {
		return nil, fmt.Errorf("ftp location %q needs a host and a file path", loc)
	}
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "21")
	}
	src := FTPSource{Addr: addr, Path: u.Path}
	if u.User != nil {
		src.User = u.User.Username()
		src.Password, _ = u.User.Password()
	}
	return src, nil
}

// Load reads the first column of src.
func Load(ctx context.Context, src Source) ([]any, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	defer rc.Close()

	values, err := ReadColumn(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}
	log.Infof("importer: read %d rows from %s", len(values), src)
	return values, nil
}

// ReadColumn returns the first field of every CSV record, verbatim, so
// that unparseable cells stay in position. A leading header row (a first
// cell that is neither empty nor numeric) is dropped. Blank lines are
// skipped; an empty cell needs a record of its own (",").
// Comma, semicolon and tab separators are accepted; the first line decides.
func ReadColumn(r io.Reader) ([]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := strings.TrimPrefix(string(data), "\ufeff")

	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = detectSeparator(text)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var values []any
	for i := 0; ; i++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		cell := ""
		if len(rec) > 0 {
			cell = rec[0]
		}
		if i == 0 && isHeader(cell) {
			continue
		}
		values = append(values, cell)
	}
	return values, nil
}

func isHeader(cell string) bool {
	if strings.TrimSpace(cell) == "" {
		return false
	}
	_, ok := sparse.ParseCell(cell)
	return !ok
}

func detectSeparator(text string) rune {
	line, _, _ := strings.Cut(text, "\n")
	switch {
	case strings.Contains(line, "\t"):
		return '\t'
	case strings.Contains(line, ";"):
		return ';'
	default:
		return ','
	}
}
