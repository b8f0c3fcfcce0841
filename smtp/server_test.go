package smtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	netsmtp "net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/synqronlabs/wren"
)

func startServer(t *testing.T, b *Builder) string {
	t.Helper()
	server, err := b.Logger(discardLogger()).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go server.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})
	return ln.Addr().String()
}

func TestServerDelivers(t *testing.T) {
	rec := &messageRecorder{}
	addr := startServer(t, New("mx.example.com").MaxMessageSize(1<<20).Use(rec))

	c, err := netsmtp.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Hello("client.example.com"); err != nil {
		t.Fatalf("EHLO: %v", err)
	}
	if ok, param := c.Extension("SIZE"); !ok || param != "1048576" {
		t.Errorf("SIZE extension = %v %q", ok, param)
	}
	if ok, _ := c.Extension("PIPELINING"); !ok {
		t.Error("PIPELINING not advertised")
	}
	if err := c.Mail("alice@example.com"); err != nil {
		t.Fatalf("MAIL: %v", err)
	}
	if err := c.Rcpt("bob@example.com"); err != nil {
		t.Fatalf("RCPT: %v", err)
	}
	w, err := c.Data()
	if err != nil {
		t.Fatalf("DATA: %v", err)
	}
	fmt.Fprint(w, "Subject: hello\r\n\r\n.leading dot\r\nbye\r\n")
	if err := w.Close(); err != nil {
		t.Fatalf("end of data: %v", err)
	}
	if err := c.Quit(); err != nil {
		t.Fatalf("QUIT: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("delivered %d messages", rec.count())
	}
	mail := rec.mails[0]
	if got := string(mail.Body()); got != ".leading dot\r\nbye\r\n" {
		t.Errorf("Body() = %q", got)
	}
	if mail.Envelope.BodyType != BodyType8BitMIME {
		t.Errorf("BodyType = %q", mail.Envelope.BodyType)
	}
	if !strings.Contains(mail.Headers.Get("Received"), "by mx.example.com (Wren) with ESMTP") {
		t.Errorf("Received = %q", mail.Headers.Get("Received"))
	}
}

func TestServerRejectsRecipient(t *testing.T) {
	deny := &rcptRecorder{result: wren.Deny(wren.CodeMailboxNotFound, wren.ESCBadDestMailbox, "No such user")}
	addr := startServer(t, New("mx.example.com").Use(deny))

	c, err := netsmtp.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Mail("alice@example.com"); err != nil {
		t.Fatalf("MAIL: %v", err)
	}
	err = c.Rcpt("nobody@example.com")
	if err == nil || !strings.Contains(err.Error(), "550 5.1.1 No such user") {
		t.Errorf("RCPT error = %v", err)
	}
}

func TestBuilderWiringError(t *testing.T) {
	b := NewBuilder("smtp", "mx.example.com", func() []any {
		return []any{&HeloCmdHandler{}, &MailCmdHandler{}, &RcptCmdHandler{}, &DataCmdHandler{}}
	})
	_, err := b.Build()
	var we *wren.WiringError
	if !errors.As(err, &we) || we.Capability != "MessageLineHandler" {
		t.Errorf("Build() error = %v", err)
	}
}

func TestBuilderConfig(t *testing.T) {
	b := New("mx.example.com").
		Greeting("Hello").
		SoftwareName("Test").
		DefaultDomain("example.org").
		EnforceHeloEhlo(false).
		EnforceAddressBrackets(false).
		RelayNetworks()

	cfg := b.Config()
	if cfg.HelloName != "mx.example.com" || cfg.Greeting != "Hello" || cfg.SoftwareName != "Test" {
		t.Errorf("Config() = %+v", cfg)
	}
	if cfg.DefaultDomain != "example.org" || cfg.EnforceHeloEhlo || cfg.EnforceAddressBrackets {
		t.Errorf("Config() = %+v", cfg)
	}
	if len(cfg.RelayNetworks) != 0 {
		t.Errorf("RelayNetworks = %v", cfg.RelayNetworks)
	}

	server, err := b.Addr("127.0.0.1:0").MaxConnections(3).Build()
	if err != nil {
		t.Fatal(err)
	}
	if sc := server.Config(); sc.Protocol != "smtp" || sc.Hostname != "mx.example.com" || sc.MaxConnections != 3 {
		t.Errorf("server Config() = %+v", sc)
	}
}
