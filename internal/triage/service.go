package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

const (
	DefaultImageAckDelay      = 1 * time.Second
	DefaultImageAnalysisDelay = 2 * time.Second

	// UploadedImageText is the patient-side message recorded for a photo upload.
	UploadedImageText = "Uploaded an image"
)

// SubmitResult is the outcome of a patient submission.
type SubmitResult struct {
	ID      string `json:"id,omitempty"`
	Case    *Case  `json:"case,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ServiceHooks receives lifecycle callbacks, typically wired to metrics.
type ServiceHooks struct {
	OnCaseCreated     func(category RiskCategory)
	OnTransition      func(from, to Status)
	OnReply           func(category RiskCategory, needsConfirmation bool)
	OnClinicianAction func(action, outcome string)
	OnStoreError      func(op string)
	OnImageStage      func(stage string, sinceUpload time.Duration)
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the sync bus port. Defaults to NopPublisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithPartnerNotifier sets the partner side-channel. Without one, partner
// notification requests are logged and dropped.
func WithPartnerNotifier(n PartnerNotifier) Option {
	return func(s *Service) { s.partner = n }
}

// WithClinicianNotifier sets the clinician side-channel.
func WithClinicianNotifier(n ClinicianNotifier) Option {
	return func(s *Service) { s.clinician = n }
}

// WithScheduler replaces the timer-based scheduler.
func WithScheduler(sch Scheduler) Option {
	return func(s *Service) { s.scheduler = sch }
}

// WithHooks installs lifecycle callbacks.
func WithHooks(h ServiceHooks) Option {
	return func(s *Service) { s.hooks = h }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithImageDelays sets the delay before the acknowledgement stage and the
// additional delay before the analysis stage.
func WithImageDelays(ack, analysis time.Duration) Option {
	return func(s *Service) {
		s.ackDelay = ack
		s.analysisDelay = analysis
	}
}

// Service is the case lifecycle controller. Every mutation is
// read-modify-write of one case followed by one change notification.
type Service struct {
	store     Store
	directory Directory
	engine    *Engine
	publisher Publisher
	partner   PartnerNotifier
	clinician ClinicianNotifier
	scheduler Scheduler
	hooks     ServiceHooks
	logger    log.Logger
	now       func() time.Time
	ids       *idSource

	ackDelay      time.Duration
	analysisDelay time.Duration

	locks keyedMutex

	tasksMu  sync.Mutex
	tasks    map[uint64]Task
	nextTask uint64
	closed   bool

	wg sync.WaitGroup
}

// NewService creates a new lifecycle controller.
func NewService(store Store, directory Directory, engine *Engine, logger log.Logger, opts ...Option) *Service {
	s := &Service{
		store:         store,
		directory:     directory,
		engine:        engine,
		publisher:     NopPublisher{},
		scheduler:     TimerScheduler{},
		logger:        logger,
		now:           time.Now,
		ids:           newIDSource(),
		ackDelay:      DefaultImageAckDelay,
		analysisDelay: DefaultImageAnalysisDelay,
		tasks:         make(map[uint64]Task),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Engine returns the dialogue engine the service decides with.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Patient returns the directory record with stored settings applied over the
// roster defaults.
func (s *Service) Patient(ctx context.Context, patientID string) (*Patient, error) {
	p, ok, err := s.directory.GetPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", patientID, err)
	}
	if !ok {
		return nil, ErrPatientNotFound
	}
	st, ok, err := s.store.GetSettings(WithScope(ctx, Scope{PatientID: p.ID}), p.ID)
	if err != nil {
		s.storeError("get_settings")
		return nil, fmt.Errorf("%w: get settings: %w", ErrStorageUnavailable, err)
	}
	if ok {
		p.Settings = *st
	}
	return p, nil
}

// ActiveCase returns the patient's open (ANALYZING) case, if any.
func (s *Service) ActiveCase(ctx context.Context, patientID string) (*Case, bool, error) {
	p, err := s.Patient(ctx, patientID)
	if err != nil {
		return nil, false, err
	}
	c, err := s.activeCase(ctx, p.ID)
	if err != nil {
		return nil, false, err
	}
	return c, c != nil, nil
}

// Conversation is what the patient chat view renders.
type Conversation struct {
	Patient     *Patient `json:"patient"`
	Case        *Case    `json:"case,omitempty"`
	Greeting    string   `json:"greeting"`
	Suggestions []string `json:"suggestions"`
}

// Conversation returns the open case for the patient together with the
// greeting line and quick replies for the latest bot message.
func (s *Service) Conversation(ctx context.Context, patientID string) (*Conversation, error) {
	p, err := s.Patient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	c, err := s.activeCase(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	greeting := s.engine.Greeting(p.Name)
	last := greeting
	if c != nil {
		if m, ok := c.LastBotMessage(); ok {
			last = m.Text
		}
	}
	return &Conversation{
		Patient:     p,
		Case:        c,
		Greeting:    greeting,
		Suggestions: s.engine.Suggestions(p.Category, last),
	}, nil
}

// SubmitUserMessage appends a patient utterance to the open case (creating one
// if the patient has none), runs the dialogue engine and persists the result.
// Blank text is skipped without touching the store.
func (s *Service) SubmitUserMessage(ctx context.Context, patientID, text string) (*SubmitResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return &SubmitResult{Skipped: true, Reason: "empty"}, nil
	}

	p, err := s.Patient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()
	ctx = WithScope(ctx, Scope{PatientID: p.ID})

	c, created, err := s.locateOrCreate(ctx, p)
	if err != nil {
		return nil, err
	}
	prev := c.Status
	now := s.now()

	awaiting := false
	if m, ok := c.LastBotMessage(); ok {
		awaiting = m.NeedsConfirmation
	}
	c.ChatHistory = append(c.ChatHistory, Message{
		ID:        s.ids.next(now),
		Sender:    SenderUser,
		Text:      text,
		CreatedAt: now,
	})

	d := s.engine.Decide(Input{
		Category:             p.Category,
		PatientName:          p.Name,
		Turns:                c.PatientTurns(),
		AwaitingConfirmation: awaiting,
		PartnerAlert:         p.Settings.PartnerAlert,
		Utterance:            text,
		RiskLevel:            c.RiskLevel,
		Assessment:           c.AIAssessment,
	})
	if err := s.applyDecision(c, d, now); err != nil {
		return nil, err
	}

	if err := s.commit(ctx, c, prev, created, p, d); err != nil {
		return nil, err
	}
	return &SubmitResult{ID: c.ID, Case: c.Clone()}, nil
}

// SubmitImage records a photo upload and schedules the two analysis stages.
func (s *Service) SubmitImage(ctx context.Context, patientID, imageRef string) (*SubmitResult, error) {
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return nil, fmt.Errorf("%w: image reference is required", ErrValidation)
	}

	p, err := s.Patient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()
	ctx = WithScope(ctx, Scope{PatientID: p.ID})

	c, created, err := s.locateOrCreate(ctx, p)
	if err != nil {
		return nil, err
	}
	now := s.now()
	c.ChatHistory = append(c.ChatHistory, Message{
		ID:        s.ids.next(now),
		Sender:    SenderUser,
		Text:      UploadedImageText,
		ImageURL:  imageRef,
		CreatedAt: now,
	})
	c.UpdatedAt = now

	if err := s.put(ctx, c, "put_case"); err != nil {
		return nil, err
	}
	if created {
		s.caseCreated(p)
	}
	s.publishCase(ctx, c)

	caseID := c.ID
	s.schedule(s.ackDelay, func() {
		s.runImageStage(context.WithoutCancel(ctx), p.ID, caseID, imageStageAck, now)
	})

	return &SubmitResult{ID: c.ID, Case: c.Clone()}, nil
}

type imageStage string

const (
	imageStageAck      imageStage = "ack"
	imageStageAnalysis imageStage = "analysis"
)

func (s *Service) runImageStage(ctx context.Context, patientID, caseID string, stage imageStage, uploadedAt time.Time) {
	L := s.logger.With("patient_id", patientID, "case_id", caseID, "stage", string(stage))

	p, err := s.Patient(ctx, patientID)
	if err != nil {
		L.Error(ctx, err, "image stage: patient lookup failed")
		return
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()
	ctx = WithScope(ctx, Scope{PatientID: p.ID, CaseID: caseID})

	c, ok, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		s.storeError("get_case")
		L.Error(ctx, err, "image stage: failed to fetch case")
		return
	}
	if !ok || c.Status != StatusAnalyzing {
		L.Info(ctx, "image stage dropped, case no longer open")
		return
	}

	var d Decision
	switch stage {
	case imageStageAck:
		d = s.engine.AcknowledgeImage()
	case imageStageAnalysis:
		d = s.engine.DecideImage(Input{
			Category:     p.Category,
			PatientName:  p.Name,
			Turns:        c.PatientTurns(),
			PartnerAlert: p.Settings.PartnerAlert,
			RiskLevel:    c.RiskLevel,
			Assessment:   c.AIAssessment,
		})
	}

	prev := c.Status
	now := s.now()
	if err := s.applyDecision(c, d, now); err != nil {
		L.Error(ctx, err, "image stage: decision rejected")
		return
	}
	if err := s.commit(ctx, c, prev, false, p, d); err != nil {
		L.Error(ctx, err, "image stage: failed to persist case")
		return
	}
	if s.hooks.OnImageStage != nil {
		s.hooks.OnImageStage(string(stage), now.Sub(uploadedAt))
	}

	if stage == imageStageAck {
		s.schedule(s.analysisDelay, func() {
			s.runImageStage(ctx, patientID, caseID, imageStageAnalysis, uploadedAt)
		})
	}
}

// UpdateSettings persists the patient's settings record.
func (s *Service) UpdateSettings(ctx context.Context, patientID string, st Settings) (*Patient, error) {
	p, err := s.Patient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()
	ctx = WithScope(ctx, Scope{PatientID: p.ID})

	if err := s.store.PutSettings(ctx, p.ID, &st); err != nil {
		s.storeError("put_settings")
		return nil, fmt.Errorf("%w: put settings: %w", ErrStorageUnavailable, err)
	}
	changed := p.Settings.PartnerAlert != st.PartnerAlert
	p.Settings = st

	now := s.now()
	s.publisher.Publish(ctx, Event{Kind: EventSettingsUpdated, PatientID: p.ID, At: now})
	if changed {
		msg := "Partner Alert Disabled"
		if st.PartnerAlert {
			msg = "Partner Alert Enabled"
		}
		s.toast(ctx, p.ID, msg)
	}
	return p, nil
}

// RequestPartnerAlert is the manual partner alert. It reports whether a
// notification was requested; a disabled setting only produces a toast.
func (s *Service) RequestPartnerAlert(ctx context.Context, patientID string) (bool, error) {
	p, err := s.Patient(ctx, patientID)
	if err != nil {
		return false, err
	}
	if !p.Settings.PartnerAlert {
		s.toast(ctx, p.ID, "Turn on partner alert in settings")
		return false, nil
	}
	s.notifyPartner(ctx, p)
	s.toast(ctx, p.ID, "Partner notified")
	return true, nil
}

// ResetAll cancels pending image stages, wipes every case and settings record
// and tells all viewers to re-read. It waits for in-flight case writes, and
// none start until the wipe is published.
func (s *Service) ResetAll(ctx context.Context) error {
	unlock := s.locks.LockAll()
	defer unlock()

	n := s.cancelPending()
	if err := s.store.ResetAll(ctx); err != nil {
		s.storeError("reset")
		return fmt.Errorf("%w: reset: %w", ErrStorageUnavailable, err)
	}
	s.publisher.Publish(ctx, Event{Kind: EventReset, At: s.now()})
	s.logger.Info(ctx, "store reset", "cancelled_tasks", n)
	return nil
}

// Close cancels pending image stages and waits for in-flight background work.
func (s *Service) Close() {
	s.tasksMu.Lock()
	s.closed = true
	s.tasksMu.Unlock()
	s.cancelPending()
	s.wg.Wait()
}

// locateOrCreate returns the open case for p, or a new unsaved one.
func (s *Service) locateOrCreate(ctx context.Context, p *Patient) (*Case, bool, error) {
	c, err := s.activeCase(ctx, p.ID)
	if err != nil {
		return nil, false, err
	}
	if c != nil {
		return c, false, nil
	}
	now := s.now()
	return &Case{
		ID:        s.ids.next(now),
		PatientID: p.ID,
		Status:    StatusAnalyzing,
		CreatedAt: now,
		UpdatedAt: now,
	}, true, nil
}

func (s *Service) activeCase(ctx context.Context, patientID string) (*Case, error) {
	cases, err := s.store.ListCases(ctx)
	if err != nil {
		s.storeError("list_cases")
		return nil, fmt.Errorf("%w: list cases: %w", ErrStorageUnavailable, err)
	}
	var open *Case
	for _, c := range cases {
		if c.PatientID != patientID || c.Status != StatusAnalyzing {
			continue
		}
		if open == nil || c.CreatedAt.After(open.CreatedAt) {
			open = c
		}
	}
	return open, nil
}

func (s *Service) applyDecision(c *Case, d Decision, now time.Time) error {
	if d.Status != c.Status && !c.Status.CanTransition(d.Status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, c.Status, d.Status)
	}
	c.ChatHistory = append(c.ChatHistory, Message{
		ID:                s.ids.next(now),
		Sender:            SenderBot,
		Text:              d.Reply,
		NeedsConfirmation: d.NeedsConfirmation,
		CreatedAt:         now,
	})
	if d.RiskLevel != RiskNone {
		c.RiskLevel = d.RiskLevel
	}
	if d.Assessment != "" {
		c.AIAssessment = d.Assessment
	}
	c.Status = d.Status
	c.UpdatedAt = now
	return nil
}

// commit writes c, then notifies viewers and runs the decision's effects.
// Nothing is published when the write fails.
func (s *Service) commit(ctx context.Context, c *Case, prev Status, created bool, p *Patient, d Decision) error {
	if err := s.put(ctx, c, "put_case"); err != nil {
		return err
	}
	if created {
		s.caseCreated(p)
	}
	if s.hooks.OnReply != nil {
		s.hooks.OnReply(p.Category, d.NeedsConfirmation)
	}
	if prev != c.Status {
		s.transitioned(ctx, c, prev)
		if c.Status == StatusPendingReview {
			s.notifyClinician(ctx, c, p)
		}
	}
	s.publishCase(ctx, c)

	for _, e := range d.Effects {
		switch e.Kind {
		case EffectNotifyPartner:
			s.notifyPartner(ctx, p)
		case EffectToast:
			s.toast(ctx, p.ID, e.Message)
		}
	}
	return nil
}

func (s *Service) put(ctx context.Context, c *Case, op string) error {
	ctx = WithScope(ctx, Scope{PatientID: c.PatientID, CaseID: c.ID})
	if err := s.store.PutCase(ctx, c); err != nil {
		if errors.Is(err, ErrOpenCaseConflict) {
			return fmt.Errorf("put case %s: %w", c.ID, err)
		}
		s.storeError(op)
		return fmt.Errorf("%w: put case: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Service) caseCreated(p *Patient) {
	if s.hooks.OnCaseCreated != nil {
		s.hooks.OnCaseCreated(p.Category)
	}
}

func (s *Service) transitioned(ctx context.Context, c *Case, prev Status) {
	if s.hooks.OnTransition != nil {
		s.hooks.OnTransition(prev, c.Status)
	}
	s.logger.Info(ctx, "case transitioned",
		"case_id", c.ID,
		"patient_id", c.PatientID,
		"from", prev,
		"to", c.Status,
	)
}

func (s *Service) storeError(op string) {
	if s.hooks.OnStoreError != nil {
		s.hooks.OnStoreError(op)
	}
}

func (s *Service) publishCase(ctx context.Context, c *Case) {
	s.publisher.Publish(ctx, Event{
		Kind:      EventCaseUpdated,
		CaseID:    c.ID,
		PatientID: c.PatientID,
		Status:    c.Status,
		At:        c.UpdatedAt,
	})
}

func (s *Service) toast(ctx context.Context, patientID, msg string) {
	s.publisher.Publish(ctx, Event{Kind: EventToast, PatientID: patientID, Message: msg, At: s.now()})
}

func (s *Service) notifyPartner(ctx context.Context, p *Patient) {
	L := s.logger.With("patient_id", p.ID)
	if s.partner == nil {
		L.Warn(ctx, "partner notification requested but no notifier configured")
		return
	}
	at := s.now()
	s.background(ctx, func(ctx context.Context) {
		if err := s.partner.NotifyPartner(ctx, p, at); err != nil {
			L.Error(ctx, err, "partner notification failed")
		}
	})
}

func (s *Service) notifyClinician(ctx context.Context, c *Case, p *Patient) {
	if s.clinician == nil {
		return
	}
	snap := c.Clone()
	s.background(ctx, func(ctx context.Context) {
		if err := s.clinician.NotifyPendingReview(ctx, snap, p); err != nil {
			s.logger.Error(ctx, err, "clinician notification failed", "case_id", snap.ID)
		}
	})
}

func (s *Service) background(ctx context.Context, fn func(context.Context)) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	if s.closed {
		s.logger.Warn(ctx, "service closed, dropping background work")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(context.WithoutCancel(ctx))
	}()
}

func (s *Service) schedule(d time.Duration, fn func()) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	if s.closed {
		return
	}

	id := s.nextTask
	s.nextTask++
	s.wg.Add(1)
	s.tasks[id] = s.scheduler.AfterFunc(d, func() {
		defer s.wg.Done()
		s.tasksMu.Lock()
		_, live := s.tasks[id]
		delete(s.tasks, id)
		s.tasksMu.Unlock()
		if live {
			fn()
		}
	})
}

// cancelPending cancels every scheduled stage and returns how many were stopped.
func (s *Service) cancelPending() int {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	n := 0
	for id, t := range s.tasks {
		delete(s.tasks, id)
		if t.Cancel() {
			s.wg.Done()
			n++
		}
	}
	return n
}
