package spool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/smtp"
)

func testMail() *smtp.Mail {
	return &smtp.Mail{
		ID: "01JTESTMAIL",
		Envelope: smtp.Envelope{
			From:   smtp.MustPath("alice@example.com"),
			To:     []smtp.Path{smtp.MustPath("bob@example.com"), smtp.MustPath("carol@example.com")},
			Params: map[string]string{"BODY": "8BITMIME", "SIZE": "42"},
		},
		Raw:        []byte("Subject: hi\r\n\r\nhello\r\n"),
		ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		HeloName:   "client.example.com",
		RemoteAddr: "192.0.2.10:40000",
	}
}

type nopTransport struct{ wren.LineStack }

func (*nopTransport) RemoteAddr() net.Addr                  { return &net.TCPAddr{IP: net.ParseIP("192.0.2.10")} }
func (*nopTransport) LocalAddr() net.Addr                   { return &net.TCPAddr{IP: net.ParseIP("192.0.2.1")} }
func (*nopTransport) WriteResponse(wren.Response) error     { return nil }
func (*nopTransport) WriteStream(io.Reader) error           { return nil }
func (*nopTransport) StartTLS(announce wren.Response) error { return wren.ErrTLSUnavailable }
func (*nopTransport) IsTLS() bool                           { return false }
func (*nopTransport) IsStartTLSSupported() bool             { return false }
func (*nopTransport) Close() error                          { return nil }

func testSession() *smtp.Session {
	cfg := smtp.DefaultConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := wren.NewSession(context.Background(), "", &nopTransport{}, logger)
	return smtp.NewSessionFactory(&cfg)(base)
}

func TestRecordRoundTrip(t *testing.T) {
	want := NewRecord(testMail(), testMail().Envelope.To...)
	data, err := want.MarshalMsg(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) > want.Msgsize() {
		t.Errorf("encoded %d bytes, Msgsize() = %d", len(data), want.Msgsize())
	}

	got := new(Record)
	rest, err := got.UnmarshalMsg(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 0 {
		t.Errorf("%d trailing bytes", len(rest))
	}
	if got.ID != want.ID || got.Sender != "alice@example.com" || got.HeloName != want.HeloName || got.RemoteAddr != want.RemoteAddr {
		t.Errorf("got %+v", got)
	}
	if !slices.Equal(got.Recipients, []string{"bob@example.com", "carol@example.com"}) {
		t.Errorf("Recipients = %v", got.Recipients)
	}
	if !got.ReceivedAt.Equal(want.ReceivedAt) {
		t.Errorf("ReceivedAt = %v", got.ReceivedAt)
	}
	if got.Params["BODY"] != "8BITMIME" || got.Params["SIZE"] != "42" {
		t.Errorf("Params = %v", got.Params)
	}
	if !bytes.Equal(got.Data, want.Data) {
		t.Errorf("Data = %q", got.Data)
	}
}

func TestRecordNullSender(t *testing.T) {
	m := testMail()
	m.Envelope.From = smtp.Path{}
	if rec := NewRecord(m); rec.Sender != "" || rec.Recipients != nil {
		t.Errorf("got %+v", rec)
	}
}

func TestRecordTruncated(t *testing.T) {
	data, _ := NewRecord(testMail()).MarshalMsg(nil)
	if _, err := new(Record).UnmarshalMsg(data[:len(data)/2]); err == nil {
		t.Error("truncated record decoded")
	}
}

func TestStore(t *testing.T) {
	st, err := New(filepath.Join(t.TempDir(), "spool"))
	if err != nil {
		t.Fatal(err)
	}

	first, err := st.Write(NewRecord(testMail()))
	if err != nil {
		t.Fatal(err)
	}
	second, err := st.Write(NewRecord(testMail()))
	if err != nil {
		t.Fatal(err)
	}

	names, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{first, second}) {
		t.Errorf("List() = %v, want [%s %s]", names, first, second)
	}

	rec, err := st.Load(first)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "01JTESTMAIL" {
		t.Errorf("ID = %q", rec.ID)
	}

	if err := st.Remove(first); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Load(first); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() after Remove error = %v", err)
	}
	if err := st.Remove(first); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove() error = %v", err)
	}

	entries, _ := os.ReadDir(st.Dir())
	if len(entries) != 1 {
		t.Errorf("%d files left, want 1", len(entries))
	}
}

func TestStoreHooks(t *testing.T) {
	st, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := testSession()
	mail := testMail()

	res := st.OnMessage(s, mail)
	if !res.Accepted() {
		t.Fatalf("OnMessage() = %v", res.Action)
	}
	names, _ := st.List()
	if len(names) != 1 {
		t.Fatalf("%d records after OnMessage", len(names))
	}
	if got := res.Response().String(); got != "250 2.6.0 Message queued as "+names[0] {
		t.Errorf("reply = %q", got)
	}

	for _, rcpt := range mail.Envelope.To {
		if res := st.Deliver(s, rcpt, mail); !res.Accepted() {
			t.Errorf("Deliver(%s) = %v", rcpt, res.Action)
		}
	}
	names, _ = st.List()
	if len(names) != 3 {
		t.Fatalf("%d records after Deliver", len(names))
	}
	rec, err := st.Load(names[2])
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(rec.Recipients, []string{"carol@example.com"}) {
		t.Errorf("Recipients = %v", rec.Recipients)
	}
}

func TestStoreWriteFailure(t *testing.T) {
	dir := t.TempDir()
	st, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	res := st.OnMessage(testSession(), testMail())
	if got := res.Response().String(); got != "451 4.3.0 Requested action aborted: local error in processing" {
		t.Errorf("reply = %q", got)
	}
}
