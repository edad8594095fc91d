package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Notifier composes the purchase emails and hands them to a Sender.
type Notifier struct {
	Sender Sender
	From   string
}

// New returns a Notifier. A nil sender falls back to LogSender.
func New(sender Sender, from string) *Notifier {
	if sender == nil {
		sender = LogSender{}
	}
	return &Notifier{Sender: sender, From: from}
}

// SendConfirmation tells the buyer which products were unlocked.
func (n *Notifier) SendConfirmation(ctx context.Context, to, bundleName string, products []string, expiresAt *time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks for purchasing %s.\n\n", bundleName)
	b.WriteString("You now have access to:\n")
	for _, p := range products {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	if expiresAt != nil {
		fmt.Fprintf(&b, "\nAccess is valid until %s.\n", expiresAt.UTC().Format("January 2, 2006"))
	}
	b.WriteString("\nSign in to each product with this email address to start using it.\n")

	return n.Sender.Send(ctx, Message{
		From:    n.From,
		To:      to,
		Subject: fmt.Sprintf("Your %s access is ready", bundleName),
		Text:    b.String(),
	})
}

// SendClaimLink asks the buyer to finish setting up their bundle.
func (n *Notifier) SendClaimLink(ctx context.Context, to, bundleName, link string, expiresAt time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Thanks for purchasing %s.\n\n", bundleName)
	b.WriteString("Some products in your bundle need a few details before we can activate them.\n")
	fmt.Fprintf(&b, "Complete your setup here:\n\n  %s\n\n", link)
	fmt.Fprintf(&b, "This link expires on %s.\n", expiresAt.UTC().Format("January 2, 2006"))

	return n.Sender.Send(ctx, Message{
		From:    n.From,
		To:      to,
		Subject: fmt.Sprintf("Activate your %s purchase", bundleName),
		Text:    b.String(),
	})
}
