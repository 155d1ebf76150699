package jobqueue

import (
	"fmt"

	"github.com/DanielKirsch/CourseHive/internal/pkg/mail"
)

// processMailDeliveryJob delivers a queued mail via SMTP
func (q *Queue) processMailDeliveryJob(job *Job) error {
	payload, err := MailDeliveryJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid mail payload: %w", err)
	}

	if payload.To == "" {
		return fmt.Errorf("mail job %s has no recipient", job.ID)
	}

	return mail.SendMail(payload.To, payload.Subject, payload.Body)
}
