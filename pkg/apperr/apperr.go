// Package apperr carries the failure taxonomy shared by the service prober
// and the query router. Backend failures never cross a component boundary as
// raw errors; they are classified into one of six kinds, each with a fixed
// user-facing message and a troubleshooting hint.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

type Kind string

const (
	KindNetwork Kind = "network"
	KindTimeout Kind = "timeout"
	KindAuth    Kind = "auth"
	KindConfig  Kind = "config"
	KindAPI     Kind = "api"
	KindCORS    Kind = "cors"
)

// Descriptor is a classified failure. Message is safe to show to the user.
type Descriptor struct {
	Kind            Kind   `json:"kind"`
	Message         string `json:"message"`
	Details         string `json:"details,omitempty"`
	Troubleshooting string `json:"troubleshooting,omitempty"`
	StatusCode      int    `json:"status_code,omitempty"`
}

func (d *Descriptor) Error() string {
	if d.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", d.Kind, d.Message, d.Details)
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// New builds a descriptor of the given kind with the canonical user-facing
// copy for that kind.
func New(kind Kind, details string) *Descriptor {
	d := &Descriptor{Kind: kind, Details: details}
	switch kind {
	case KindNetwork:
		d.Message = "Kan de service niet bereiken."
		d.Troubleshooting = "Controleer of de server draait en probeer het opnieuw."
	case KindTimeout:
		d.Message = "De aanvraag duurde te lang."
		d.Troubleshooting = "Controleer uw verbinding en probeer het opnieuw."
	case KindAuth:
		d.Message = "Authenticatie mislukt."
		d.Troubleshooting = "Controleer de API-sleutel instellingen met uw beheerder."
	case KindConfig:
		d.Message = "De service is niet geconfigureerd."
		d.Troubleshooting = "Contacteer uw systeembeheerder."
	case KindCORS:
		d.Message = "Cross-origin verzoek geblokkeerd."
		d.Troubleshooting = "Contacteer uw systeembeheerder."
	default:
		d.Kind = KindAPI
		d.Message = "De aanvraag is mislukt."
		d.Troubleshooting = "Probeer het opnieuw."
	}
	return d
}

// WithStatus attaches the HTTP status code, folded into the message for the
// generic api kind.
func (d *Descriptor) WithStatus(code int) *Descriptor {
	d.StatusCode = code
	if d.Kind == KindAPI && code > 0 {
		d.Message = fmt.Sprintf("De aanvraag is mislukt (status %d).", code)
	}
	return d
}

// UserMessage is the single line shown inside a failed assistant message.
func (d *Descriptor) UserMessage() string {
	if d.Troubleshooting == "" {
		return d.Message
	}
	return d.Message + " " + d.Troubleshooting
}

// Classify maps a transport-level error to a descriptor. It never returns nil.
func Classify(err error) *Descriptor {
	if err == nil {
		return New(KindAPI, "")
	}

	var d *Descriptor
	if errors.As(err, &d) {
		return d
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindTimeout, err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return New(KindTimeout, err.Error())
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "cors") || strings.Contains(msg, "cross-origin"):
		return New(KindCORS, err.Error())
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return New(KindTimeout, err.Error())
	default:
		return New(KindNetwork, err.Error())
	}
}

// ClassifyStatus maps a non-2xx reply to a descriptor. The structured-record
// and Morphik backends report errors as {error, message[, code]}; a
// configuration complaint in that payload beats the status-code mapping.
func ClassifyStatus(statusCode int, errField, codeField string) *Descriptor {
	if isConfigError(errField, codeField) {
		return New(KindConfig, errField).WithStatus(statusCode)
	}
	switch statusCode {
	case 401, 403:
		return New(KindAuth, errField).WithStatus(statusCode)
	default:
		return New(KindAPI, errField).WithStatus(statusCode)
	}
}

func isConfigError(errField, codeField string) bool {
	if codeField == "MORPHIK_NOT_CONFIGURED" {
		return true
	}
	lower := strings.ToLower(errField)
	return strings.Contains(lower, "not configured") ||
		strings.Contains(lower, "configuration") ||
		strings.Contains(lower, "supabase_url") ||
		strings.Contains(lower, "missing environment")
}
