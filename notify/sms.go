package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storefront/authguard"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSConfig holds Twilio credentials and the sending number.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string
}

// SMSSender delivers codes through the Twilio messaging API.
type SMSSender struct {
	api  messageCreator
	from string
	now  func() time.Time
}

// NewSMSSender validates cfg and returns a sender.
func NewSMSSender(cfg SMSConfig) (*SMSSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, errors.New("notify: missing Twilio credentials")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSSender{
		api:  client.Api,
		from: cfg.From,
		now:  time.Now,
	}, nil
}

// Send texts the code in msg to msg.Destination.
func (s *SMSSender) Send(ctx context.Context, msg authguard.Notification) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(s.from)
	params.SetTo(msg.Destination)
	params.SetBody(bodyFor(msg, s.now()))

	err := run(ctx, func() error {
		_, err := s.api.CreateMessage(params)
		return err
	})
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	return nil
}
