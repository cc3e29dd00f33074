package notify

import (
	"context"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const whatsappLimit = 1600

const whatsappPrefix = "whatsapp:"

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// WhatsAppSender sends through the Twilio WhatsApp channel. Recipients are phone numbers,
// with or without the whatsapp: prefix.
type WhatsAppSender struct {
	api  messageCreator
	from string
}

func NewWhatsAppSender(accountSID, authToken, from string) *WhatsAppSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &WhatsAppSender{api: client.Api, from: from}
}

func (w *WhatsAppSender) Send(ctx context.Context, recipient, text string) error {
	for _, part := range split(text, whatsappLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := &openapi.CreateMessageParams{}
		params.SetFrom(WhatsAppAddress(w.from))
		params.SetTo(WhatsAppAddress(recipient))
		params.SetBody(part)
		if _, err := w.api.CreateMessage(params); err != nil {
			return err
		}
	}
	return nil
}

// WhatsAppAddress adds the whatsapp: prefix when missing.
func WhatsAppAddress(number string) string {
	if strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}

// StripWhatsApp removes the whatsapp: prefix Twilio puts on inbound addresses.
func StripWhatsApp(address string) string {
	return strings.TrimPrefix(address, whatsappPrefix)
}
