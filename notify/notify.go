// Package notify sends lifecycle email. Every send is best-effort: a
// failed email is logged and swallowed so no pipeline ever blocks on the
// mail provider.
package notify

import (
	"context"
	"log"

	"github.com/google/uuid"
	"propflow/models"
)

// AccountLookup resolves a registered account for an owner id.
type AccountLookup interface {
	GetAccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type Dispatcher struct {
	sender   Sender
	accounts AccountLookup
}

func NewDispatcher(sender Sender, accounts AccountLookup) *Dispatcher {
	return &Dispatcher{sender: sender, accounts: accounts}
}

// Recipient is a resolved destination.
type Recipient struct {
	Email string
	Name  string
}

// ResolveRecipient prefers the registered account email for authenticated
// submitters over whatever contact fields were typed into the form, so
// notifications reach a verified address. Anonymous submissions fall back
// to the self-reported contact fields.
func (d *Dispatcher) ResolveRecipient(ctx context.Context, ownerID *uuid.UUID, contactEmail, contactName string) Recipient {
	if ownerID != nil && d.accounts != nil {
		acct, err := d.accounts.GetAccountByID(ctx, *ownerID)
		if err != nil {
			log.Printf("Notify: account lookup failed for %s: %v", ownerID, err)
		} else if acct != nil && acct.Email != "" {
			return Recipient{Email: acct.Email, Name: acct.Name}
		}
	}
	return Recipient{Email: contactEmail, Name: contactName}
}

// Dispatch renders and sends one lifecycle email. It never returns an
// error: failures are logged and the caller proceeds.
func (d *Dispatcher) Dispatch(ctx context.Context, evt EventType, to Recipient, data TemplateData) {
	if to.Email == "" {
		log.Printf("Notify: no recipient for %s, skipping", evt)
		return
	}
	data.RecipientName = to.Name

	msg, err := render(evt, data)
	if err != nil {
		log.Printf("Notify: render %s failed: %v", evt, err)
		return
	}

	err = d.sender.Send(ctx, Message{
		ToEmail: to.Email,
		ToName:  to.Name,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		log.Printf("Notify: send %s to %s failed: %v", evt, to.Email, err)
		return
	}

	log.Printf("Notify: sent %s to %s", evt, to.Email)
}
