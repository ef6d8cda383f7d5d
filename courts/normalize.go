package courts

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrInvalidResponse wraps every structural problem with an upstream payload.
var ErrInvalidResponse = errors.New("invalid response")

// APIError is an upstream reply whose response_code was not SuccessCode.
// It matches ErrInvalidResponse under errors.Is.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "API error: " + e.Message
}

func (e *APIError) Is(target error) bool {
	return target == ErrInvalidResponse
}

// SuccessCode is the response_code of an accepted upstream reply.
const SuccessCode = "0000"

// Upstream time_slot_details status values.
const (
	upstreamBooked    = 0
	upstreamAvailable = 1
)

type rawResponse struct {
	Headers *rawHeaders `json:"headers"`
	Body    *rawBody    `json:"body"`
}

type rawHeaders struct {
	ResponseCode    string `json:"response_code"`
	ResponseMessage string `json:"response_message"`
}

type rawBody struct {
	Availability *rawAvailability `json:"availability"`
}

type rawAvailability struct {
	TimeSlots json.RawMessage `json:"time_slots"`
	Resources json.RawMessage `json:"resources"`
}

type rawResource struct {
	ResourceID      int             `json:"resource_id"`
	ResourceName    string          `json:"resource_name"`
	TimeSlotDetails []rawSlotDetail `json:"time_slot_details"`
	WarningMessages json.RawMessage `json:"warning_messages"`
}

type rawSlotDetail struct {
	Status *int `json:"status"`
}

// NormalizeResponse validates an upstream availability payload and converts it
// into courts with explicitly mapped slot statuses.
func NormalizeResponse(payload []byte) ([]Court, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected JSON object", ErrInvalidResponse)
	}

	var resp rawResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.Headers == nil || resp.Body == nil {
		return nil, fmt.Errorf("%w: missing headers or body", ErrInvalidResponse)
	}
	if resp.Headers.ResponseCode != SuccessCode {
		message := resp.Headers.ResponseMessage
		if message == "" {
			message = "Unknown error"
		}
		return nil, &APIError{Message: message}
	}
	if resp.Body.Availability == nil {
		return nil, fmt.Errorf("%w: missing availability data", ErrInvalidResponse)
	}

	var resources []rawResource
	if !isJSONArray(resp.Body.Availability.Resources) {
		return nil, fmt.Errorf("%w: resources should be an array", ErrInvalidResponse)
	}
	if err := json.Unmarshal(resp.Body.Availability.Resources, &resources); err != nil {
		return nil, fmt.Errorf("%w: resources: %v", ErrInvalidResponse, err)
	}

	var times []string
	if !isJSONArray(resp.Body.Availability.TimeSlots) {
		return nil, fmt.Errorf("%w: time slots should be an array", ErrInvalidResponse)
	}
	if err := json.Unmarshal(resp.Body.Availability.TimeSlots, &times); err != nil {
		return nil, fmt.Errorf("%w: time slots: %v", ErrInvalidResponse, err)
	}

	courts := make([]Court, 0, len(resources))
	for _, resource := range resources {
		courts = append(courts, normalizeResource(resource, times))
	}
	return courts, nil
}

func normalizeResource(resource rawResource, times []string) Court {
	warnings := decodeWarnings(resource.WarningMessages)

	details := resource.TimeSlotDetails
	if len(details) > len(times) {
		warnings = append(warnings, fmt.Sprintf("dropped %d slot details without a matching time", len(details)-len(times)))
		details = details[:len(times)]
	}

	slots := make([]Slot, 0, len(details))
	for i, detail := range details {
		status := SlotAvailable
		switch {
		case detail.Status == nil:
			warnings = append(warnings, fmt.Sprintf("missing status at %s", times[i]))
		case *detail.Status == upstreamBooked:
			status = SlotBooked
		case *detail.Status == upstreamAvailable:
		default:
			warnings = append(warnings, fmt.Sprintf("unknown status %d at %s", *detail.Status, times[i]))
		}
		slots = append(slots, Slot{Time: times[i], Status: status})
	}

	return Court{
		ResourceID:   resource.ResourceID,
		ResourceName: resource.ResourceName,
		TimeSlots:    slots,
		Warnings:     warnings,
	}
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// warning_messages is loosely typed upstream; strings are kept as-is and any
// other element is kept as its JSON text.
func decodeWarnings(raw json.RawMessage) []string {
	warnings := []string{}
	if !isJSONArray(raw) {
		return warnings
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return warnings
	}
	for _, item := range items {
		var text string
		if err := json.Unmarshal(item, &text); err == nil {
			warnings = append(warnings, text)
			continue
		}
		warnings = append(warnings, string(bytes.TrimSpace(item)))
	}
	return warnings
}
