package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lockwatchd/internal/directory"
	"github.com/fyrsmithlabs/lockwatchd/internal/strike"
)

// guestSubjectPrefix marks mail about shared guest cards.
const guestSubjectPrefix = "[Gästekarte] "

// Config configures the notifier.
type Config struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	FromName string `koanf:"from_name"`
	UseTLS   bool   `koanf:"use_tls"`

	// AddressDomain turns the directory's "Lastname, Firstname" values
	// into firstname.lastname@domain addresses.
	AddressDomain string `koanf:"address_domain"`

	// TemplateDir optionally shadows the built-in templates.
	TemplateDir string `koanf:"template_dir"`

	// TestMode redirects all mail to TestRecipient and drops CCs.
	TestMode      bool   `koanf:"test_mode"`
	TestRecipient string `koanf:"test_recipient"`
}

// Validate checks the fields required for delivery.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("smtp host is required")
	}
	if c.Port <= 0 {
		return errors.New("smtp port is required")
	}
	if c.From == "" {
		return errors.New("from address is required")
	}
	if c.AddressDomain == "" {
		return errors.New("address domain is required")
	}
	if c.TestMode && c.TestRecipient == "" {
		return errors.New("test mode requires a test recipient")
	}
	return nil
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier renders strike notifications and hands them to a Sender.
type Notifier struct {
	cfg      Config
	renderer *Renderer
	sender   Sender
	logger   *zap.Logger
}

// NewNotifier builds a notifier. sender may be nil, in which case mail
// goes out over SMTP per the config.
func NewNotifier(cfg Config, sender Sender, logger *zap.Logger) (*Notifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		var err error
		sender, err = newSMTPSender(cfg)
		if err != nil {
			return nil, err
		}
	}
	return &Notifier{
		cfg:      cfg,
		renderer: NewRenderer(cfg.TemplateDir, nil),
		sender:   sender,
		logger:   logger,
	}, nil
}

// NotifyOutcome sends the mail for one escalation outcome. Guest cards
// notify the supervisor only; everyone else gets mail directly with the
// supervisor in CC.
func (n *Notifier) NotifyOutcome(ctx context.Context, member *directory.Member, out strike.Outcome) error {
	data := TemplateData{
		Name:          member.Name,
		Supervisor:    member.SupervisorAddress,
		CardUID:       member.CardUID,
		StrikeType:    string(out.Type),
		ViolationDate: out.OccurredAt.Format("02.01.2006 15:04"),
		Location:      out.UnitID,
		LockID:        out.LockID,
		CurrentDate:   n.renderer.now().Format("02.01.2006"),
		CurrentTime:   n.renderer.now().Format("15:04"),
		Counter:       out.Counter,
		Salutation:    salutation(member.Gender),
	}

	subject, body, err := n.renderer.Render(data, out.Type, member.GuestCard)
	if err != nil {
		return err
	}

	msg, err := n.address(member, subject)
	if err != nil {
		return err
	}
	msg.Body = body

	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	n.logger.Info("sent strike notification",
		zap.String("card_uid", member.CardUID),
		zap.String("outcome", string(out.Type)),
		zap.String("to", msg.To),
		zap.Bool("guest_card", member.GuestCard))
	return nil
}

// address resolves recipients for a member. Test mode wins over
// everything and drops the CC.
func (n *Notifier) address(member *directory.Member, subject string) (Message, error) {
	msg := Message{Subject: subject}

	if member.GuestCard {
		msg.Subject = guestSubjectPrefix + subject
		if member.SupervisorAddress == "" {
			return Message{}, fmt.Errorf("guest card %s has no supervisor address", member.CardUID)
		}
		msg.To = n.resolveAddress(member.SupervisorAddress)
	} else {
		if member.ContactAddress == "" {
			return Message{}, fmt.Errorf("member %s has no contact address", member.CardUID)
		}
		msg.To = n.resolveAddress(member.ContactAddress)
		if member.SupervisorAddress != "" {
			msg.Cc = n.resolveAddress(member.SupervisorAddress)
		}
	}

	if n.cfg.TestMode {
		n.logger.Info("test mode: redirecting notification",
			zap.String("original_to", msg.To),
			zap.String("redirect_to", n.cfg.TestRecipient))
		msg.To = n.cfg.TestRecipient
		msg.Cc = ""
	}
	return msg, nil
}

// addressReplacer transliterates characters that do not belong in the
// local part of a mail address.
var addressReplacer = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
	"Ä", "ae", "Ö", "oe", "Ü", "ue",
	" ", "",
)

// resolveAddress maps the directory's "Lastname, Firstname" convention
// to firstname.lastname@domain. Values that already look like mail
// addresses pass through untouched.
func (n *Notifier) resolveAddress(value string) string {
	if strings.Contains(value, "@") {
		return value
	}
	lastname, firstname, found := strings.Cut(value, ",")
	var local string
	if found {
		local = strings.TrimSpace(firstname) + "." + strings.TrimSpace(lastname)
	} else {
		local = strings.TrimSpace(value)
	}
	local = addressReplacer.Replace(strings.ToLower(local))
	return local + "@" + n.cfg.AddressDomain
}
