package notify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lockwatchd/internal/directory"
	"github.com/fyrsmithlabs/lockwatchd/internal/strike"
)

// captureSender records every message instead of delivering it.
type captureSender struct {
	sent []Message
	err  error
}

func (s *captureSender) Send(_ context.Context, msg Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func testConfig() Config {
	return Config{
		Host:          "smtp.example.com",
		Port:          587,
		Username:      "watcher",
		Password:      "secret",
		From:          "lockwatch@example.com",
		FromName:      "Lock Watch",
		UseTLS:        true,
		AddressDomain: "example.com",
	}
}

func testMember() *directory.Member {
	return &directory.Member{
		CardUID:           "04AA11",
		Name:              "Anna Muster",
		Firstname:         "Anna",
		Lastname:          "Muster",
		Gender:            "w",
		ContactAddress:    "Muster, Anna",
		SupervisorAddress: "Chef, Eine",
	}
}

func testOutcome(typ strike.OutcomeType) strike.Outcome {
	return strike.Outcome{
		Type:       typ,
		Identity:   "04AA11",
		UnitID:     "Halle 2",
		LockID:     "101",
		Counter:    1,
		OccurredAt: time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC),
	}
}

func newTestNotifier(t *testing.T, cfg Config) (*Notifier, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	n, err := NewNotifier(cfg, sender, zap.NewNop())
	require.NoError(t, err)
	return n, sender
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	broken := cfg
	broken.Host = ""
	assert.Error(t, broken.Validate())

	broken = cfg
	broken.TestMode = true
	assert.Error(t, broken.Validate(), "test mode without recipient")
}

func TestNotifyOutcome_MemberWithCC(t *testing.T) {
	n, sender := newTestNotifier(t, testConfig())

	err := n.NotifyOutcome(context.Background(), testMember(), testOutcome(strike.OutcomeStrike1))
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "anna.muster@example.com", msg.To)
	assert.Equal(t, "eine.chef@example.com", msg.Cc)
	assert.Contains(t, msg.Subject, "Erinnerung")
	assert.Contains(t, msg.Body, "Liebe Anna Muster")
	assert.Contains(t, msg.Body, "Nr. 101")
	assert.Contains(t, msg.Body, "Halle 2")
	assert.Contains(t, msg.Body, "01.03.2025 10:30")
}

func TestNotifyOutcome_MaleSalutation(t *testing.T) {
	n, sender := newTestNotifier(t, testConfig())

	member := testMember()
	member.Gender = "m"
	member.Name = "Bernd Beispiel"
	member.ContactAddress = "Beispiel, Bernd"

	require.NoError(t, n.NotifyOutcome(context.Background(), member, testOutcome(strike.OutcomeStrike2)))
	assert.Contains(t, sender.sent[0].Body, "Lieber Bernd Beispiel")
	assert.Contains(t, sender.sent[0].Subject, "Zweite Verwarnung")
}

func TestNotifyOutcome_CounterUsesThirdStrikeTemplate(t *testing.T) {
	n, sender := newTestNotifier(t, testConfig())

	out := testOutcome(strike.OutcomeCounter)
	out.Counter = 3
	require.NoError(t, n.NotifyOutcome(context.Background(), testMember(), out))

	msg := sender.sent[0]
	assert.Contains(t, msg.Subject, "Kartensperrung")
	assert.Contains(t, msg.Body, "Verstöße insgesamt: 3")
}

func TestNotifyOutcome_GuestCard(t *testing.T) {
	n, sender := newTestNotifier(t, testConfig())

	member := &directory.Member{
		CardUID:           "04GG77",
		Name:              "Gästekarte",
		Lastname:          "Gästekarte",
		SupervisorAddress: "Chef, Eine",
		GuestCard:         true,
	}

	require.NoError(t, n.NotifyOutcome(context.Background(), member, testOutcome(strike.OutcomeStrike1)))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "eine.chef@example.com", msg.To)
	assert.Empty(t, msg.Cc, "guest card mail goes to the supervisor only")
	assert.True(t, len(msg.Subject) > 0)
	assert.Contains(t, msg.Subject, "[Gästekarte] ")
	assert.Contains(t, msg.Body, "04GG77")
}

func TestNotifyOutcome_GuestCardWithoutSupervisorFails(t *testing.T) {
	n, sender := newTestNotifier(t, testConfig())

	member := &directory.Member{CardUID: "04GG77", GuestCard: true}
	err := n.NotifyOutcome(context.Background(), member, testOutcome(strike.OutcomeStrike1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no supervisor address")
	assert.Empty(t, sender.sent)
}

func TestNotifyOutcome_TestModeRedirects(t *testing.T) {
	cfg := testConfig()
	cfg.TestMode = true
	cfg.TestRecipient = "dev@example.com"
	n, sender := newTestNotifier(t, cfg)

	require.NoError(t, n.NotifyOutcome(context.Background(), testMember(), testOutcome(strike.OutcomeStrike1)))

	msg := sender.sent[0]
	assert.Equal(t, "dev@example.com", msg.To)
	assert.Empty(t, msg.Cc, "test mode drops the CC")
}

func TestResolveAddress(t *testing.T) {
	n, _ := newTestNotifier(t, testConfig())

	tests := []struct {
		value string
		want  string
	}{
		{"Muster, Anna", "anna.muster@example.com"},
		{"Müller, Jörg", "joerg.mueller@example.com"},
		{"Groß, Anna Lena", "annalena.gross@example.com"},
		{"Muster", "muster@example.com"},
		{"someone@elsewhere.org", "someone@elsewhere.org"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.resolveAddress(tt.value), tt.value)
	}
}

func TestRenderer_UnknownOutcome(t *testing.T) {
	r := NewRenderer("", nil)
	_, _, err := r.Render(TemplateData{}, strike.OutcomeType("bogus"), false)
	require.Error(t, err)
}

func TestRenderer_OverrideDir(t *testing.T) {
	dir := t.TempDir()
	writeOverride(t, dir, "strike_1.txt", "Betreff: Custom\n\nHallo {{.Name}}")

	r := NewRenderer(dir, nil)
	subject, body, err := r.Render(TemplateData{Name: "Anna"}, strike.OutcomeStrike1, false)
	require.NoError(t, err)
	assert.Equal(t, "Custom", subject)
	assert.Equal(t, "Hallo Anna", body)

	// Other templates still come from the built-ins.
	subject, _, err = r.Render(TemplateData{}, strike.OutcomeStrike2, false)
	require.NoError(t, err)
	assert.Contains(t, subject, "Zweite Verwarnung")
}

func writeOverride(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestSplitSubject_MissingPrefix(t *testing.T) {
	_, _, err := splitSubject("no subject line\nbody")
	require.Error(t, err)
}
