// Package spool stores received messages on disk, one MessagePack record
// per file. A Store is a MessageHook for SMTP and a DeliverToRecipientHook
// for LMTP.
package spool

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/smtp"
	"github.com/synqronlabs/wren/utils"
)

const recordExt = ".msgp"

var ErrNotFound = errors.New("spool: record not found")

var metricSpooled = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wren_spool_records_total",
		Help: "Records written to the spool by result: ok, error.",
	},
	[]string{"result"},
)

// Store is a spool directory.
type Store struct {
	dir string
}

// New opens the spool at dir, creating it when missing.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the spool directory.
func (st *Store) Dir() string { return st.dir }

// Write stores rec and returns the name of its file. The file appears
// atomically once complete.
func (st *Store) Write(rec *Record) (string, error) {
	data, err := rec.MarshalMsg(nil)
	if err != nil {
		return "", fmt.Errorf("spool: encode record: %w", err)
	}

	name := utils.GenerateID()
	tmp, err := os.CreateTemp(st.dir, ".tmp-"+name)
	if err != nil {
		return "", fmt.Errorf("spool: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("spool: write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("spool: sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("spool: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(st.dir, name+recordExt)); err != nil {
		return "", fmt.Errorf("spool: %w", err)
	}
	return name, nil
}

// Load reads the record stored under name.
func (st *Store) Load(name string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(st.dir, filepath.Base(name)+recordExt))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	rec := new(Record)
	if _, err := rec.UnmarshalMsg(data); err != nil {
		return nil, fmt.Errorf("spool: decode %s: %w", name, err)
	}
	return rec, nil
}

// List returns the names of the stored records, oldest first.
func (st *Store) List() ([]string, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), recordExt); ok && !e.IsDir() && !strings.HasPrefix(name, ".") {
			names = append(names, name)
		}
	}
	// Names are ULIDs and sort by creation time.
	slices.Sort(names)
	return names, nil
}

// Remove deletes the record stored under name.
func (st *Store) Remove(name string) error {
	err := os.Remove(filepath.Join(st.dir, filepath.Base(name)+recordExt))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

// OnMessage spools the message once for all recipients.
func (st *Store) OnMessage(s *smtp.Session, mail *smtp.Mail) wren.HookResult {
	name, err := st.store(s, NewRecord(mail, mail.Envelope.To...))
	if err != nil {
		return wren.DenySoft(wren.CodeLocalError, wren.ESCTempLocalError, "Requested action aborted: local error in processing")
	}
	return wren.HookResult{
		Action:       wren.HookOK,
		Code:         wren.CodeOK,
		EnhancedCode: wren.ESCMessageAccepted,
		Message:      fmt.Sprintf("Message queued as %s", name),
	}
}

// Deliver spools one copy of the message per recipient.
func (st *Store) Deliver(s *smtp.Session, rcpt smtp.Path, mail *smtp.Mail) wren.HookResult {
	if _, err := st.store(s, NewRecord(mail, rcpt)); err != nil {
		return wren.DenySoft(wren.CodeLocalError, wren.ESCTempLocalError, fmt.Sprintf("Unable to deliver to %s", rcpt))
	}
	return wren.Accept()
}

func (st *Store) store(s *smtp.Session, rec *Record) (string, error) {
	name, err := st.Write(rec)
	if err != nil {
		metricSpooled.WithLabelValues("error").Inc()
		s.Logger().Error("spool write failed", slog.String("id", rec.ID), slog.Any("error", err))
		return "", err
	}
	metricSpooled.WithLabelValues("ok").Inc()
	s.Logger().Debug("message spooled",
		slog.String("id", rec.ID),
		slog.String("file", name),
		slog.Int("recipients", len(rec.Recipients)),
	)
	return name, nil
}
