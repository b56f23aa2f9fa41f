package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/campusgate/internal/models"
	pkglogger "github.com/BradenHooton/campusgate/pkg/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// CodeSender delivers a one-time login code to a user
type CodeSender interface {
	SendCode(ctx context.Context, user *models.DirectoryUser, code string, expiresAt time.Time) error
}

// LogCodeSender writes codes to the log. Development only.
type LogCodeSender struct {
	logger *slog.Logger
}

func NewLogCodeSender(logger *slog.Logger) *LogCodeSender {
	return &LogCodeSender{logger: logger}
}

func (s *LogCodeSender) SendCode(ctx context.Context, user *models.DirectoryUser, code string, expiresAt time.Time) error {
	s.logger.Info("one-time login code issued",
		slog.String("user_id", user.ID),
		slog.String("email", pkglogger.SanitizedEmail(user.Email)),
		slog.String("code", code),
		slog.Time("expires_at", expiresAt),
	)
	return nil
}

// sesAPI is the part of the SES client used for code delivery
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESCodeSender emails codes using AWS SES
type SESCodeSender struct {
	client      sesAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESCodeSender creates a new SES code sender using the default AWS credential chain
func NewSESCodeSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESCodeSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSESCodeSender(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func newSESCodeSender(client sesAPI, fromAddress string, logger *slog.Logger) *SESCodeSender {
	return &SESCodeSender{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// SendCode emails the code to the user's address
func (s *SESCodeSender) SendCode(ctx context.Context, user *models.DirectoryUser, code string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}

	textBody := fmt.Sprintf(`Your campus portal sign-in code is %s

It expires in %d minute(s). If you did not try to sign in, you can ignore this message.
`, code, minutes)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{user.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your sign-in code"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send login code via SES",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
		return fmt.Errorf("failed to send code: %w", err)
	}

	s.logger.Info("login code sent",
		slog.String("user_id", user.ID),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}
