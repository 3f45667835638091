package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gymbook/internal/domain"
	"gymbook/internal/models"
	"gymbook/internal/report"
)

const (
	defaultSlotsWindowDays  = 7
	defaultReportWindowDays = 30
	xlsxContentType         = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type slotView struct {
	ID         string `json:"id"`
	Date       string `json:"date"`
	Hour       int    `json:"hour"`
	Capacity   int    `json:"capacity"`
	Occupancy  int    `json:"occupancy"`
	Available  int    `json:"available"`
	BookedByMe bool   `json:"booked_by_me"`
}

type bookingView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Slot      string    `json:"slot"`
	Date      string    `json:"date"`
	Hour      int       `json:"hour"`
	CreatedAt time.Time `json:"created_at"`
}

func newBookingView(b *models.Booking) bookingView {
	return bookingView{
		ID:        b.ID,
		UserID:    b.UserID,
		Slot:      b.SlotID.String(),
		Date:      b.SlotID.Date.Format(models.DateLayout),
		Hour:      b.SlotID.Hour,
		CreatedAt: b.CreatedAt,
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleListSlots(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDateRange(r, s.today(), defaultSlotsWindowDays-1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	slots, err := s.deps.Bookings.ListSlots(r.Context(), from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	actor, _ := actorFrom(r)
	out := make([]slotView, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slotView{
			ID:         slot.ID.String(),
			Date:       slot.ID.Date.Format(models.DateLayout),
			Hour:       slot.ID.Hour,
			Capacity:   slot.Capacity,
			Occupancy:  slot.Occupancy,
			Available:  slot.Available(),
			BookedByMe: actor.UserID != "" && slot.HasBooker(actor.UserID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": out})
}

func (s *HTTPServer) handleEligibility(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing "+headerUserID)
		return
	}

	slotID, err := parseSlotPath(r.PathValue("date"), r.PathValue("hour"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	decision, err := s.deps.Bookings.CanBook(r.Context(), actor.UserID, slotID, s.now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	resp := map[string]any{"slot": slotID.String(), "eligible": decision.Eligible}
	if decision.Violation != nil {
		resp["error"] = string(decision.Violation.Kind)
		resp["message"] = decision.Violation.Message()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleBook(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing "+headerUserID)
		return
	}

	var body struct {
		Date string `json:"date"`
		Hour int    `json:"hour"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}
	slotID, err := parseSlotPath(body.Date, strconv.Itoa(body.Hour))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	ctx := r.Context()
	guard := s.deps.Guard

	var idemKey string
	if key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey)); key != "" && guard != nil {
		idemKey = actor.UserID + ":" + key
		bookingID, err := guard.Lookup(ctx, idemKey)
		if err != nil {
			s.logger.Warn().Err(err).Str("user", actor.UserID).Msg("idempotency lookup failed")
		} else if bookingID != "" {
			b, err := s.deps.Bookings.GetBooking(ctx, bookingID)
			switch {
			case err == nil:
				writeJSON(w, http.StatusOK, newBookingView(b))
				return
			case errors.Is(err, domain.ErrNotFound):
				// booking was cancelled since, the key no longer pins anything
				_ = guard.Forget(ctx, idemKey)
			default:
				s.writeDomainError(w, err)
				return
			}
		}
	}

	if guard != nil && s.deps.GuardCfg.RateLimit > 0 {
		allowed, err := guard.CheckRateLimit(ctx, actor.UserID, s.deps.GuardCfg.RateLimit, s.deps.GuardCfg.RateLimitWindow)
		if err != nil {
			s.logger.Warn().Err(err).Str("user", actor.UserID).Msg("rate limit check failed")
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many booking attempts, try again later")
			return
		}
	}

	b, err := s.deps.Bookings.Book(ctx, actor.UserID, slotID, s.now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if idemKey != "" {
		stored, err := guard.Remember(ctx, idemKey, b.ID, s.deps.GuardCfg.IdempotencyTTL)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("booking_id", b.ID).Msg("failed to remember idempotency key")
		case !stored:
			// параллельный запрос с тем же ключом успел первым
			s.logger.Warn().Str("booking_id", b.ID).Str("user", actor.UserID).Msg("idempotency key already held by another booking")
		}
	}

	writeJSON(w, http.StatusCreated, newBookingView(b))
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing "+headerUserID)
		return
	}

	if err := s.deps.Bookings.Cancel(r.Context(), actor, r.PathValue("id"), s.now()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleMyBookings(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing "+headerUserID)
		return
	}

	bookings, err := s.deps.Bookings.BookingsForUser(r.Context(), actor.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	out := make([]bookingView, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, newBookingView(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": out})
}

func (s *HTTPServer) handleRecordAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing "+headerUserID)
		return
	}

	var body struct {
		Action string `json:"action"`
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}
	action, err := models.ParseAuditAction(body.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	event, err := s.deps.Audit.Record(r.Context(), actor, action, body.Detail)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (s *HTTPServer) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AuditFilter{Actor: strings.TrimSpace(q.Get("actor"))}

	if raw := strings.TrimSpace(q.Get("action")); raw != "" {
		action, err := models.ParseAuditAction(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		filter.Action = action
	}

	var err error
	if filter.From, err = parseInstant(q.Get("from"), false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if filter.To, err = parseInstant(q.Get("to"), true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if filter.Limit, err = parseNonNegative(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "limit: "+err.Error())
		return
	}
	if filter.Offset, err = parseNonNegative(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "offset: "+err.Error())
		return
	}

	events, err := s.deps.Audit.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "slot generator is not configured")
		return
	}
	actor, _ := actorFrom(r)

	created, err := s.deps.Generator.Generate(r.Context(), actor.UserID, s.now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (s *HTTPServer) buildReport(r *http.Request) (*report.Usage, error) {
	span := defaultReportWindowDays - 1
	from, to, err := parseDateRange(r, s.today().AddDate(0, 0, -span), span)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidInput)
	}
	top, err := parseNonNegative(r.URL.Query().Get("top"))
	if err != nil {
		return nil, fmt.Errorf("top: %v: %w", err, domain.ErrInvalidInput)
	}
	return report.Build(r.Context(), s.deps.Reader, from, to, top)
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	usage, err := s.buildReport(r)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (s *HTTPServer) handleReportXLSX(w http.ResponseWriter, r *http.Request) {
	usage, err := s.buildReport(r)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, usage); err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=usage_%s_%s.xlsx", usage.From, usage.To))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func parseSlotPath(rawDate, rawHour string) (models.SlotID, error) {
	date, err := models.ParseDate(strings.TrimSpace(rawDate))
	if err != nil {
		return models.SlotID{}, fmt.Errorf("invalid date format; expected YYYY-MM-DD")
	}
	hour, err := strconv.Atoi(strings.TrimSpace(rawHour))
	if err != nil || hour < 0 || hour > 23 {
		return models.SlotID{}, fmt.Errorf("hour must be between 0 and 23")
	}
	return models.NewSlotID(date, hour), nil
}

// parseDateRange reads from/to query dates. A missing from defaults to
// defFrom, a missing to to from plus span days.
func parseDateRange(r *http.Request, defFrom time.Time, span int) (time.Time, time.Time, error) {
	q := r.URL.Query()

	from := defFrom
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		d, err := models.ParseDate(raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date; expected YYYY-MM-DD")
		}
		from = d
	}

	to := from.AddDate(0, 0, span)
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		d, err := models.ParseDate(raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date; expected YYYY-MM-DD")
		}
		to = d
	}
	return from, to, nil
}

// parseInstant accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseInstant(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q; expected RFC3339 or YYYY-MM-DD", raw)
	}
	if endOfDay {
		return d.Add(24*time.Hour - time.Nanosecond), nil
	}
	return d, nil
}

func parseNonNegative(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return n, nil
}
