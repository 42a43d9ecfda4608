package beacon

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/testsched/internal/domain/booking"
)

const sitesQuery = `query AppointmentScheduleNewData($id: ID!) {
  myProfile(id: $id) {
    testingSites {
      id
      name
      nextAvailableTime
      isAcceptingAppointments
      __typename
    }
    __typename
  }
}
`

const datesQuery = `query AppointmentScheduleNewAvailableDates($id: ID!, $profileId: ID!) {
  userTestingSite(id: $id, profileId: $profileId) {
    id
    availableDates
    __typename
  }
}
`

const slotsQuery = `query AppointmentScheduleNewTimeSlots($id: ID!, $profileId: ID!, $date: Date!) {
  userTestingSite(id: $id, profileId: $profileId) {
    id
    timeSlots(date: $date) {
      id
      startAt
      __typename
    }
    __typename
  }
}
`

const bookMutation = `mutation CreateAppointment($profileId: ID!, $timeSlotId: ID!) {
  createAppointment(profileId: $profileId, timeSlotId: $timeSlotId) {
    id
    __typename
  }
}
`

var _ booking.Backend = (*Client)(nil)

func (c *Client) profile(op string) (string, error) {
	id := c.ProfileID()
	if id == "" {
		return "", &booking.BackendError{Op: op, Err: ErrNotLoggedIn}
	}
	return id, nil
}

func (c *Client) ListSites(ctx context.Context) ([]booking.Site, []booking.AvailabilityWindow, error) {
	const op = "listSites"
	pid, err := c.profile(op)
	if err != nil {
		return nil, nil, err
	}
	var data struct {
		MyProfile *struct {
			TestingSites []struct {
				ID                string  `json:"id"`
				Name              string  `json:"name"`
				NextAvailableTime *string `json:"nextAvailableTime"`
			} `json:"testingSites"`
		} `json:"myProfile"`
	}
	if _, err := c.call(ctx, "AppointmentScheduleNewData", map[string]any{"id": pid}, sitesQuery, &data); err != nil {
		return nil, nil, booking.WrapBackend(op, err)
	}
	if data.MyProfile == nil {
		return nil, nil, booking.WrapBackend(op, fmt.Errorf("profile %s not found", pid))
	}

	sites := make([]booking.Site, 0, len(data.MyProfile.TestingSites))
	var windows []booking.AvailabilityWindow
	for _, s := range data.MyProfile.TestingSites {
		sites = append(sites, booking.Site{ID: s.ID, Name: s.Name})
		w := booking.AvailabilityWindow{SiteID: s.ID, SiteName: s.Name}
		if s.NextAvailableTime != nil {
			// The summary is informational; an unparsable time is dropped, not fatal.
			if t, err := time.Parse(time.RFC3339, *s.NextAvailableTime); err == nil {
				w.NextAvailable = &t
			}
		}
		windows = append(windows, w)
	}
	return sites, windows, nil
}

func (c *Client) ListAvailableDates(ctx context.Context, siteID string) ([]booking.DateCandidate, error) {
	const op = "listAvailableDates"
	pid, err := c.profile(op)
	if err != nil {
		return nil, err
	}
	var data struct {
		UserTestingSite *struct {
			AvailableDates []string `json:"availableDates"`
		} `json:"userTestingSite"`
	}
	if _, err := c.call(ctx, "AppointmentScheduleNewAvailableDates", map[string]any{"id": siteID, "profileId": pid}, datesQuery, &data); err != nil {
		return nil, booking.WrapBackend(op, err)
	}
	if data.UserTestingSite == nil {
		return nil, booking.WrapBackend(op, fmt.Errorf("site %s not found", siteID))
	}
	dates := make([]booking.DateCandidate, 0, len(data.UserTestingSite.AvailableDates))
	for _, raw := range data.UserTestingSite.AvailableDates {
		d, err := parseDate(raw)
		if err != nil {
			return nil, booking.WrapBackend(op, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func (c *Client) ListTimeSlots(ctx context.Context, siteID string, date booking.DateCandidate) ([]booking.TimeSlot, error) {
	const op = "listTimeSlots"
	pid, err := c.profile(op)
	if err != nil {
		return nil, err
	}
	var data struct {
		UserTestingSite *struct {
			TimeSlots []struct {
				ID      string `json:"id"`
				StartAt string `json:"startAt"`
			} `json:"timeSlots"`
		} `json:"userTestingSite"`
	}
	vars := map[string]any{"id": siteID, "profileId": pid, "date": date.String()}
	if _, err := c.call(ctx, "AppointmentScheduleNewTimeSlots", vars, slotsQuery, &data); err != nil {
		return nil, booking.WrapBackend(op, err)
	}
	if data.UserTestingSite == nil {
		return nil, booking.WrapBackend(op, fmt.Errorf("site %s not found", siteID))
	}
	slots := make([]booking.TimeSlot, 0, len(data.UserTestingSite.TimeSlots))
	for _, s := range data.UserTestingSite.TimeSlots {
		start, err := time.Parse(time.RFC3339, s.StartAt)
		if err != nil {
			return nil, booking.WrapBackend(op, fmt.Errorf("slot %s: %w", s.ID, err))
		}
		slots = append(slots, booking.TimeSlot{ID: s.ID, Start: start})
	}
	return slots, nil
}

func (c *Client) BookSlot(ctx context.Context, slotID string) (string, error) {
	const op = "bookSlot"
	pid, err := c.profile(op)
	if err != nil {
		return "", err
	}
	var data struct {
		CreateAppointment *struct {
			ID string `json:"id"`
		} `json:"createAppointment"`
	}
	if _, err := c.call(ctx, "CreateAppointment", map[string]any{"profileId": pid, "timeSlotId": slotID}, bookMutation, &data); err != nil {
		return "", booking.WrapBackend(op, err)
	}
	if data.CreateAppointment == nil || data.CreateAppointment.ID == "" {
		return "", booking.WrapBackend(op, fmt.Errorf("slot %s: no appointment returned", slotID))
	}
	return data.CreateAppointment.ID, nil
}

// parseDate accepts a plain date or a timestamp whose date part is used.
func parseDate(raw string) (civil.Date, error) {
	if len(raw) > 10 {
		raw = raw[:10]
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid date %q: %w", raw, err)
	}
	return d, nil
}
