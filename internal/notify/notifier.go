// internal/notify/notifier.go
package notify

import (
	"context"
	"fmt"

	awsclients "tpr-pipeline/internal/common/aws"
	"tpr-pipeline/internal/common/config"
	"tpr-pipeline/internal/common/logger"
	"tpr-pipeline/internal/models"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Notifier sends run-completion notifications over email and SMS. Both
// channels are optional and best-effort.
type Notifier struct {
	ses    *awsclients.SESClient
	sns    *awsclients.SNSClient
	config config.NotificationConfig
	logger logger.Logger
}

func NewNotifier(sesClient *awsclients.SESClient, snsClient *awsclients.SNSClient, cfg config.NotificationConfig, log logger.Logger) *Notifier {
	return &Notifier{
		ses:    sesClient,
		sns:    snsClient,
		config: cfg,
		logger: log.With(map[string]interface{}{"component": "notify"}),
	}
}

// RunCompleted notifies the given contacts that a bundle is ready.
func (n *Notifier) RunCompleted(ctx context.Context, manifest models.Manifest, email, phone string) {
	subject := fmt.Sprintf("TPR run %s complete", manifest.RunID)
	body := fmt.Sprintf(
		"TPR derivation for %s (%s, %s facilities, age group %s) is complete.\n"+
			"Reporting period: %s\nWards: %d\nUnresolvable wards: %d\nCovariate gaps: %d\n",
		manifest.Region, manifest.Zone, manifest.FacilityLevel, manifest.AgeGroup,
		manifest.ReportingPeriod, manifest.WardCount, len(manifest.Unresolvable), len(manifest.CovariateGaps),
	)

	if n.config.Email.Enabled && n.ses != nil && email != "" {
		n.sendEmail(ctx, email, subject, body, manifest.RunID)
	}
	if n.config.SMS.Enabled && n.sns != nil && phone != "" {
		n.sendSMS(ctx, phone, subject, manifest.RunID)
	}
}

func (n *Notifier) sendEmail(ctx context.Context, to, subject, body, runID string) {
	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Source: awssdk.String(n.config.Email.FromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: awssdk.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: awssdk.String(body)},
			},
		},
	})
	if err != nil {
		n.logger.Warn("completion email failed", map[string]interface{}{
			"runId": runID,
			"error": err.Error(),
		})
		return
	}
	n.logger.Info("completion email sent", map[string]interface{}{"runId": runID})
}

func (n *Notifier) sendSMS(ctx context.Context, phone, message, runID string) {
	_, err := n.sns.Publish(ctx, &sns.PublishInput{
		PhoneNumber: awssdk.String(phone),
		Message:     awssdk.String(message),
	})
	if err != nil {
		n.logger.Warn("completion sms failed", map[string]interface{}{
			"runId": runID,
			"error": err.Error(),
		})
		return
	}
	n.logger.Info("completion sms sent", map[string]interface{}{"runId": runID})
}
