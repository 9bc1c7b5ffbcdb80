package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
)

// ===========================
// Physique Data Model
// ===========================

type Sex string

const (
	SexMale   Sex = "homme"
	SexFemale Sex = "femme"
)

type ActivityLevel string

const (
	ActivitySedentary ActivityLevel = "sedentaire"
	ActivityLight     ActivityLevel = "leger"
	ActivityModerate  ActivityLevel = "modere"
	ActivityActive    ActivityLevel = "actif"
	ActivityExtreme   ActivityLevel = "extreme"
)

type Intensity string

const (
	IntensityLow      Intensity = "faible"
	IntensityModerate Intensity = "moderee"
	IntensityHigh     Intensity = "elevee"
)

// PhysiqueData holds the optional body and training attributes. A nil field is "not provided".
type PhysiqueData struct {
	Weight         *float64 // kg
	Height         *float64 // cm
	Age            *int
	Sex            *Sex
	Activity       *ActivityLevel
	TrainingDays   *int // per week
	SessionMinutes *int
	Intensity      *Intensity
	TEF            *float64 // thermic effect of food, as a fraction
}

// Attribute names double as slash command option names.
const (
	FieldWeight         = "poids"
	FieldHeight         = "taille"
	FieldAge            = "age"
	FieldSex            = "sexe"
	FieldActivity       = "activite"
	FieldTrainingDays   = "jours"
	FieldSessionMinutes = "duree"
	FieldIntensity      = "intensite"
	FieldTEF            = "tef"
)

var physiqueFields = []string{
	FieldWeight, FieldHeight, FieldAge, FieldSex, FieldActivity,
	FieldTrainingDays, FieldSessionMinutes, FieldIntensity, FieldTEF,
}

func pick[T any](provided, stored *T) *T {
	if provided != nil {
		return provided
	}
	return stored
}

// MergeOver picks, field by field, d's value when set and stored's otherwise.
// The result is not checked for completeness.
func (d PhysiqueData) MergeOver(stored PhysiqueData) PhysiqueData {
	return PhysiqueData{
		Weight:         pick(d.Weight, stored.Weight),
		Height:         pick(d.Height, stored.Height),
		Age:            pick(d.Age, stored.Age),
		Sex:            pick(d.Sex, stored.Sex),
		Activity:       pick(d.Activity, stored.Activity),
		TrainingDays:   pick(d.TrainingDays, stored.TrainingDays),
		SessionMinutes: pick(d.SessionMinutes, stored.SessionMinutes),
		Intensity:      pick(d.Intensity, stored.Intensity),
		TEF:            pick(d.TEF, stored.TEF),
	}
}

func (d PhysiqueData) has(field string) bool {
	switch field {
	case FieldWeight:
		return d.Weight != nil
	case FieldHeight:
		return d.Height != nil
	case FieldAge:
		return d.Age != nil
	case FieldSex:
		return d.Sex != nil
	case FieldActivity:
		return d.Activity != nil
	case FieldTrainingDays:
		return d.TrainingDays != nil
	case FieldSessionMinutes:
		return d.SessionMinutes != nil
	case FieldIntensity:
		return d.Intensity != nil
	case FieldTEF:
		return d.TEF != nil
	}
	return false
}

func (d PhysiqueData) IsEmpty() bool {
	for _, f := range physiqueFields {
		if d.has(f) {
			return false
		}
	}
	return true
}

// Require returns a *MissingFieldsError naming every absent field.
func (d PhysiqueData) Require(fields ...string) error {
	var missing []string
	for _, f := range fields {
		if !d.has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing physique fields: " + strings.Join(e.Fields, ", ")
}

// Consent is tri-state: a member who was never asked is ConsentUnset.
type Consent int8

const (
	ConsentUnset Consent = iota
	ConsentDenied
	ConsentGranted
)

func consentFromChoice(yes bool) Consent {
	if yes {
		return ConsentGranted
	}
	return ConsentDenied
}

func (c Consent) Label() string {
	switch c {
	case ConsentGranted:
		return MsgPhysiqueConsentGranted
	case ConsentDenied:
		return MsgPhysiqueConsentDenied
	default:
		return MsgPhysiqueConsentUnset
	}
}

type Profile struct {
	UserID    snowflake.ID
	Username  string
	Data      PhysiqueData
	Consent   Consent
	UpdatedAt time.Time
}

// ProfileStore is the persistence the workflow needs. GetProfile returns nil, nil when absent.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID snowflake.ID) (*Profile, error)
	CreateProfile(ctx context.Context, userID snowflake.ID, username string) error
	MergeAndPersist(ctx context.Context, userID snowflake.ID, data PhysiqueData) error
	SetConsent(ctx context.Context, userID snowflake.ID, consent bool) error
}

// ===========================
// Continuations
// ===========================

// Continuation names the calculation to run once the final data is known, with its own arguments.
type Continuation struct {
	Calculation string
	Params      map[string]float64
}

type Calculation func(ctx context.Context, inv Invocation, data PhysiqueData, params map[string]float64) error

var ErrUnknownCalculation = errors.New("unknown calculation")

// ConsentPending waits for the answer to "keep my data?".
type ConsentPending struct {
	Provided     PhysiqueData
	Snapshot     Profile
	Continuation Continuation
	Invocation   Invocation
}

func (ConsentPending) Kind() PendingKind     { return PendingConsent }
func (p ConsentPending) Origin() Invocation { return p.Invocation }
func (ConsentPending) sealedPending()        {}

// UpdatePending waits for the answer to "refresh your stored data?".
type UpdatePending struct {
	FinalData    PhysiqueData
	Continuation Continuation
	Invocation   Invocation
}

func (UpdatePending) Kind() PendingKind     { return PendingUpdate }
func (p UpdatePending) Origin() Invocation { return p.Invocation }
func (UpdatePending) sealedPending()        {}

// ===========================
// Reconciliation Workflow
// ===========================

const (
	consentHandlerName = "physique-consent"
	updateHandlerName  = "physique-update"
	choiceYes          = "yes"
	choiceNo           = "no"
)

type Physique struct {
	profiles     ProfileStore
	pending      *PendingStore
	calculations map[string]Calculation
	staleAfter   time.Duration
	now          func() time.Time
}

func NewPhysique(profiles ProfileStore, pending *PendingStore, staleAfter time.Duration) *Physique {
	return &Physique{
		profiles:     profiles,
		pending:      pending,
		calculations: make(map[string]Calculation),
		staleAfter:   staleAfter,
		now:          time.Now,
	}
}

// RegisterCalculation must be called before events are dispatched.
func (w *Physique) RegisterCalculation(name string, fn Calculation) {
	w.calculations[name] = fn
}

func (w *Physique) Pending() *PendingStore { return w.pending }

func (w *Physique) loadProfile(ctx context.Context, inv Invocation) (*Profile, error) {
	userID := inv.UserID()
	profile, err := w.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		return profile, nil
	}

	if err := w.profiles.CreateProfile(ctx, userID, inv.Username()); err != nil {
		return nil, err
	}
	LogPhysique(MsgPhysiqueProfileCreated, inv.Username(), userID)
	metricProfiles.Inc()

	profile, err = w.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("profile %s missing right after creation", userID)
	}
	return profile, nil
}

// Reconcile resolves the data a calculation runs with. Members who never answered the
// consent question are asked first and the calculation resumes from HandleConsent.
func (w *Physique) Reconcile(ctx context.Context, inv Invocation, provided PhysiqueData, cont Continuation) error {
	profile, err := w.loadProfile(ctx, inv)
	if err != nil {
		return err
	}

	var final PhysiqueData
	switch profile.Consent {
	case ConsentUnset:
		return w.suspend(inv, ConsentPending{
			Provided:     provided,
			Snapshot:     *profile,
			Continuation: cont,
			Invocation:   inv,
		}, MsgPhysiqueConsentPrompt, consentHandlerName)
	case ConsentDenied:
		final = provided
	case ConsentGranted:
		final = provided.MergeOver(profile.Data)
		if err := w.profiles.MergeAndPersist(ctx, inv.UserID(), final); err != nil {
			return err
		}
	}

	metricResumes.WithLabelValues("immediate").Inc()
	return w.resume(ctx, inv, cont, final)
}

// ReviewStale asks members who rely entirely on an old stored profile whether they want to
// refresh it. In every other case it behaves like Reconcile.
func (w *Physique) ReviewStale(ctx context.Context, inv Invocation, provided PhysiqueData, cont Continuation) error {
	if w.staleAfter <= 0 || !provided.IsEmpty() {
		return w.Reconcile(ctx, inv, provided, cont)
	}

	profile, err := w.profiles.GetProfile(ctx, inv.UserID())
	if err != nil {
		return err
	}
	if profile == nil || profile.Consent != ConsentGranted || profile.Data.IsEmpty() ||
		w.now().Sub(profile.UpdatedAt) < w.staleAfter {
		return w.Reconcile(ctx, inv, provided, cont)
	}

	return w.suspend(inv, UpdatePending{
		FinalData:    provided.MergeOver(profile.Data),
		Continuation: cont,
		Invocation:   inv,
	}, fmt.Sprintf(MsgPhysiqueUpdatePrompt, fmt.Sprintf("<t:%d:D>", profile.UpdatedAt.Unix())), updateHandlerName)
}

func (w *Physique) suspend(inv Invocation, p PendingInteraction, content, handler string) error {
	userID := inv.UserID()
	w.pending.Put(userID, p)

	err := inv.Reply(Reply{
		Content:   content,
		Ephemeral: true,
		Buttons:   choiceButtons(handler, userID),
	})
	if err != nil {
		w.pending.Remove(userID)
		return err
	}

	metricPrompts.WithLabelValues(p.Kind().String()).Inc()
	LogPhysique(MsgPendingStored, p.Kind(), userID)
	return nil
}

func choiceButtons(handler string, userID snowflake.ID) []ReplyButton {
	return []ReplyButton{
		{Label: MsgPhysiqueButtonYes, CustomID: EncodeCustomID(handler, choiceYes, userID), Style: discord.ButtonStyleSuccess},
		{Label: MsgPhysiqueButtonNo, CustomID: EncodeCustomID(handler, choiceNo, userID), Style: discord.ButtonStyleDanger},
	}
}

func parseChoice(choice string) (yes bool, ok bool) {
	switch choice {
	case choiceYes:
		return true, true
	case choiceNo:
		return false, true
	}
	return false, false
}

// checkClick validates a button click and returns the parsed answer. handled is true when the
// click was answered here and the caller must stop.
func (w *Physique) checkClick(inv Invocation, choice string, ownerID snowflake.ID) (yes bool, handled bool, err error) {
	yes, ok := parseChoice(choice)
	if !ok {
		return false, true, inv.Reply(Reply{Content: ErrPhysiqueBadChoice, Ephemeral: true})
	}
	if ownerID != inv.UserID() {
		return false, true, inv.Reply(Reply{Content: ErrPhysiqueNotYourPrompt, Ephemeral: true})
	}
	return yes, false, nil
}

// HandleConsent records the answer to the consent prompt and resumes the suspended calculation
// on the invocation that started it, with the data supplied at that time. Attributes are stored on
// the next granted run.
func (w *Physique) HandleConsent(ctx context.Context, inv Invocation, choice string, ownerID snowflake.ID) error {
	yes, handled, err := w.checkClick(inv, choice, ownerID)
	if handled {
		return err
	}

	userID := inv.UserID()
	p, ok := w.pending.Take(userID, PendingConsent)
	if !ok {
		return inv.Reply(Reply{Content: ErrPhysiqueNoPending, Ephemeral: true})
	}
	pc := p.(ConsentPending)

	if err := w.profiles.SetConsent(ctx, userID, yes); err != nil {
		w.pending.Put(userID, pc)
		LogPhysique(MsgPhysiqueRestoreAfterErr, userID)
		return err
	}
	LogPhysique(MsgPhysiqueConsentRecorded, userID, yes)
	pc.Snapshot.Consent = consentFromChoice(yes)

	answer := MsgPhysiqueConsentNo
	if yes {
		answer = MsgPhysiqueConsentYes
	}
	if err := inv.Update(Reply{Content: answer}); err != nil {
		LogWarn(MsgLoaderRespondFail, err)
	}

	metricResumes.WithLabelValues(PendingConsent.String()).Inc()
	return w.resume(ctx, pc.Invocation, pc.Continuation, pc.Provided)
}

// HandleUpdate answers the refresh prompt. Declining runs the calculation with the stored data;
// accepting asks the member to run the command again with new values.
func (w *Physique) HandleUpdate(ctx context.Context, inv Invocation, choice string, ownerID snowflake.ID) error {
	yes, handled, err := w.checkClick(inv, choice, ownerID)
	if handled {
		return err
	}

	userID := inv.UserID()
	p, ok := w.pending.Take(userID, PendingUpdate)
	if !ok {
		return inv.Reply(Reply{Content: ErrPhysiqueNoPending, Ephemeral: true})
	}
	up := p.(UpdatePending)

	answer := MsgPhysiqueUpdateNo
	if yes {
		answer = MsgPhysiqueUpdateYes
	}
	if err := inv.Update(Reply{Content: answer}); err != nil {
		LogWarn(MsgLoaderRespondFail, err)
	}

	if yes {
		return inv.FollowUp(Reply{Content: MsgPhysiqueUpdateReissue, Ephemeral: true})
	}

	metricResumes.WithLabelValues(PendingUpdate.String()).Inc()
	return w.resume(ctx, up.Invocation, up.Continuation, up.FinalData)
}

func (w *Physique) resume(ctx context.Context, inv Invocation, cont Continuation, data PhysiqueData) error {
	calc, ok := w.calculations[cont.Calculation]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCalculation, cont.Calculation)
	}
	if err := calc(ctx, inv, data, cont.Params); err != nil {
		return fmt.Errorf("calculation %q: %w", cont.Calculation, err)
	}
	return nil
}
