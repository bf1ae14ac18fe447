package router

import (
	"errors"
	"net/http"

	"anarchy.ttfm/donations/donation"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/methods"
	"anarchy.ttfm/donations/offline"
)

type (
	// Error is the body of every failed request. Only the message key and a
	// public message, never the technical chain.
	Error struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	Reason struct {
		Reason string `json:"reason,omitzero"`
	}
	// SyncReport mirrors offline.Report without the raw errors
	SyncReport struct {
		Users map[string]UserReport `json:"users"`
	}
	UserReport struct {
		Synced    int `json:"synced"`
		Failed    int `json:"failed"`
		Cancelled int `json:"cancelled"`
		Pending   int `json:"pending"`
	}
)

func SyncReportFromOffline(src *offline.Report) (report SyncReport) {
	report.Users = make(map[string]UserReport, len(src.Users))
	for user, r := range src.Users {
		report.Users[user] = UserReport{
			Synced:    r.Synced,
			Failed:    r.Failed,
			Cancelled: r.Cancelled,
			Pending:   r.Pending,
		}
	}
	return report
}

var methodErrors = []error{
	methods.ErrFullCardNumber,
	methods.ErrMissingToken,
	methods.ErrInvalidMasking,
	gateways.ErrInvalidMethodType,
}

// ErrorFromDomain converts err into a status code and a public body
func ErrorFromDomain(err error) (status int, body Error) {
	var (
		validation *donation.ValidationError
		transition *donation.TransitionError
		conflict   *donation.SyncConflictError
	)
	body.Error = donation.MessageKey(err)

	for _, target := range methodErrors {
		if errors.Is(err, target) {
			body.Error = donation.MessageValidation + "." + donation.RuleMethod
			return http.StatusBadRequest, body
		}
	}

	switch {
	case errors.As(err, &validation):
		body.Message = validation.Message
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &transition):
		body.Message = "donation is " + string(transition.From)
		return http.StatusConflict, body
	case errors.As(err, &conflict):
		body.Message = "donation was already " + string(conflict.Status)
		return http.StatusConflict, body
	case errors.Is(err, donation.ErrNotFound), errors.Is(err, methods.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, donation.ErrNotRecurring):
		status = http.StatusConflict
	case errors.Is(err, offline.ErrOffline):
		status = http.StatusServiceUnavailable
	case errors.Is(err, offline.ErrSyncInProgress):
		status = http.StatusConflict
	default:
		if gerr, ok := gateways.AsError(err); ok {
			status = http.StatusBadGateway
			if gerr.Retryable {
				status = http.StatusServiceUnavailable
			}
		} else {
			status = http.StatusInternalServerError
		}
	}
	body.Message = http.StatusText(status)
	return status, body
}
