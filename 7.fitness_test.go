package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateCalories(t *testing.T) {
	c, err := estimateCalories(fullPhysiqueData())
	require.NoError(t, err)

	assert.InDelta(t, 1717.5, c.BMR, 0.01)
	assert.InDelta(t, 1717.5*0.55, c.Activity, 0.01)
	assert.InDelta(t, 5.0*75*1*4/7, c.Training, 0.01)

	base := 1717.5*1.55 + 5.0*75*4/7
	assert.InDelta(t, base*0.1, c.TEF, 0.01)
	assert.InDelta(t, base*1.1, c.Total, 0.01)
	assert.InDelta(t, c.Total, c.BMR+c.Activity+c.Training+c.TEF, 0.01)
}

func TestEstimateCaloriesFemaleWithoutTraining(t *testing.T) {
	d := PhysiqueData{
		Weight:   floatPtr(60),
		Height:   floatPtr(165),
		Age:      intPtr(25),
		Sex:      ptrTo(SexFemale),
		Activity: ptrTo(ActivitySedentary),
	}
	c, err := estimateCalories(d)
	require.NoError(t, err)

	assert.InDelta(t, 1345.25, c.BMR, 0.01)
	assert.Zero(t, c.Training)
	assert.InDelta(t, 1345.25*1.2*(1+defaultTEF), c.Total, 0.01)
}

func TestEstimateCaloriesRequiresCoreFields(t *testing.T) {
	_, err := estimateCalories(PhysiqueData{Weight: floatPtr(70), Sex: ptrTo(SexMale)})

	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{FieldHeight, FieldAge, FieldActivity}, missing.Fields)
}

func TestBodyMassIndex(t *testing.T) {
	tests := []struct {
		weight, height float64
		category       string
	}{
		{50, 180, "insuffisance pondérale"},
		{75, 178, "corpulence normale"},
		{90, 180, "surpoids"},
		{100, 175, "obésité modérée"},
		{115, 175, "obésité sévère"},
		{140, 170, "obésité morbide"},
	}
	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			bmi, category := bodyMassIndex(tt.weight, tt.height)
			assert.Equal(t, tt.category, category)
			assert.InDelta(t, tt.weight/((tt.height/100)*(tt.height/100)), bmi, 1e-9)
		})
	}
}

func TestOneRepMax(t *testing.T) {
	epley, brzycki, err := oneRepMax(100, 5)
	require.NoError(t, err)
	assert.InDelta(t, 116.67, epley, 0.01)
	assert.InDelta(t, 112.5, brzycki, 0.01)

	epley, brzycki, err = oneRepMax(140, 1)
	require.NoError(t, err)
	assert.Equal(t, 140.0, epley)
	assert.Equal(t, 140.0, brzycki)

	for _, reps := range []int{0, 37} {
		_, _, err = oneRepMax(100, reps)
		assert.ErrorIs(t, err, errBadForceParams)
	}
	_, _, err = oneRepMax(0, 5)
	assert.ErrorIs(t, err, errBadForceParams)
}

func TestCalculationsReply(t *testing.T) {
	ctx := context.Background()

	inv := newFakeInvocation(1)
	require.NoError(t, calculateIMC(ctx, inv, fullPhysiqueData(), nil))
	require.Len(t, inv.replies, 1)
	assert.Contains(t, inv.replies[0].Content, "corpulence normale")
	assert.True(t, inv.replies[0].Ephemeral)

	inv = newFakeInvocation(1)
	require.NoError(t, calculateCalories(ctx, inv, fullPhysiqueData(), nil))
	require.Len(t, inv.replies, 1)
	assert.Contains(t, inv.replies[0].Content, "kcal/jour")

	inv = newFakeInvocation(1)
	require.NoError(t, calculateForce(ctx, inv, PhysiqueData{}, map[string]float64{"charge": 100, "reps": 5}))
	require.Len(t, inv.replies, 1)
	assert.NotContains(t, inv.replies[0].Content, "Ratio")

	inv = newFakeInvocation(1)
	require.NoError(t, calculateForce(ctx, inv, PhysiqueData{Weight: floatPtr(80)}, map[string]float64{"charge": 100, "reps": 5}))
	require.Len(t, inv.replies, 1)
	assert.Contains(t, inv.replies[0].Content, "Ratio")
}

func TestRegisterCalculations(t *testing.T) {
	w := NewPhysique(newFakeProfileStore(newFakeClock()), NewPendingStore(0), 0)
	registerCalculations(w)
	for _, name := range []string{"calories", "imc", "force"} {
		assert.Contains(t, w.calculations, name)
	}
}

type fakeOptions struct {
	floats  map[string]float64
	ints    map[string]int
	strings map[string]string
}

func (o fakeOptions) OptFloat(name string) (float64, bool) {
	v, ok := o.floats[name]
	return v, ok
}

func (o fakeOptions) OptInt(name string) (int, bool) {
	v, ok := o.ints[name]
	return v, ok
}

func (o fakeOptions) OptString(name string) (string, bool) {
	v, ok := o.strings[name]
	return v, ok
}

func TestPhysiqueDataFromOptions(t *testing.T) {
	d := physiqueDataFromOptions(fakeOptions{
		floats:  map[string]float64{FieldWeight: 80, FieldTEF: 0.15},
		ints:    map[string]int{FieldAge: 33, FieldTrainingDays: 3},
		strings: map[string]string{FieldSex: "femme", FieldIntensity: "elevee"},
	})

	assert.Equal(t, 80.0, *d.Weight)
	assert.Equal(t, 0.15, *d.TEF)
	assert.Equal(t, 33, *d.Age)
	assert.Equal(t, 3, *d.TrainingDays)
	assert.Equal(t, SexFemale, *d.Sex)
	assert.Equal(t, IntensityHigh, *d.Intensity)
	assert.Nil(t, d.Height)
	assert.Nil(t, d.Activity)
	assert.Nil(t, d.SessionMinutes)

	assert.True(t, physiqueDataFromOptions(fakeOptions{}).IsEmpty())
}

func TestCustomIDRoundTrip(t *testing.T) {
	user := snowflake.ID(123456789012345678)
	id := EncodeCustomID(consentHandlerName, choiceYes, user)
	assert.Equal(t, "physique-consent:yes:123456789012345678", id)

	handler, choice, owner, err := ParseCustomID(id)
	require.NoError(t, err)
	assert.Equal(t, consentHandlerName, handler)
	assert.Equal(t, choiceYes, choice)
	assert.Equal(t, user, owner)

	for _, bad := range []string{"", "physique-consent:yes", "physique-consent::1", "a:b:c", "a:b:1:2"} {
		_, _, _, err := ParseCustomID(bad)
		assert.Error(t, err, bad)
	}
}

func TestGuideNavigation(t *testing.T) {
	owner := snowflake.ID(50)

	first := guideReply(0, owner)
	require.Len(t, first.Buttons, 1, "no previous button on the first page")
	assert.Equal(t, EncodeCustomID(guideHandlerName, "1", owner), first.Buttons[0].CustomID)

	last := guideReply(len(guidePages)-1, owner)
	require.Len(t, last.Buttons, 1, "no next button on the last page")
	assert.Equal(t, MsgGuidePrev, last.Buttons[0].Label)

	inv := newFakeInvocation(owner)
	require.NoError(t, navigateGuide(inv, first.Buttons[0].CustomID))
	require.Len(t, inv.updates, 1)
	assert.Contains(t, inv.updates[0].Content, fmt.Sprintf(MsgGuidePage, 2, len(guidePages)))
}

func TestGuideNavigationChecksOwner(t *testing.T) {
	owner := snowflake.ID(50)
	inv := newFakeInvocation(snowflake.ID(51))

	require.NoError(t, navigateGuide(inv, EncodeCustomID(guideHandlerName, "1", owner)))

	assert.Empty(t, inv.updates)
	require.Len(t, inv.replies, 1)
	assert.Equal(t, ErrGuideNotYours, inv.replies[0].Content)
}

func TestGuideNavigationRejectsBadPage(t *testing.T) {
	owner := snowflake.ID(50)
	for _, page := range []string{"-1", "99", "x"} {
		inv := newFakeInvocation(owner)
		require.NoError(t, navigateGuide(inv, EncodeCustomID(guideHandlerName, page, owner)))
		assert.Empty(t, inv.updates)
		require.Len(t, inv.replies, 1)
		assert.Equal(t, ErrPhysiqueBadChoice, inv.replies[0].Content)
	}
}

func TestReportWorkflowError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing fields", fmt.Errorf("calculation %q: %w", "imc", &MissingFieldsError{Fields: []string{FieldHeight}}), fmt.Sprintf(ErrPhysiqueMissingFields, FieldHeight)},
		{"bad force params", errBadForceParams, ErrForceBadParams},
		{"storage", errors.New("disk I/O error"), ErrPhysiqueGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newFakeInvocation(1)
			reportWorkflowError(inv, tt.err)
			require.Len(t, inv.replies, 1)
			assert.Equal(t, tt.want, inv.replies[0].Content)
			assert.True(t, inv.replies[0].Ephemeral)
		})
	}
}

func TestRenderProfile(t *testing.T) {
	out := renderProfile(&Profile{
		Data:      PhysiqueData{Weight: floatPtr(72.5), Age: intPtr(41)},
		Consent:   ConsentGranted,
		UpdatedAt: time.Unix(1700000000, 0),
	})

	assert.Contains(t, out, "`72.5 kg`")
	assert.Contains(t, out, "`41 ans`")
	assert.Contains(t, out, "`"+MsgPhysiqueConsentGranted+"`")
	assert.Contains(t, out, "<t:1700000000:R>")
	assert.NotContains(t, out, "Taille")
}

func TestUserLimiter(t *testing.T) {
	l := newUserLimiter(time.Hour, 2)

	assert.True(t, l.Allow(1))
	assert.True(t, l.Allow(1))
	assert.False(t, l.Allow(1), "burst exhausted")
	assert.True(t, l.Allow(2), "users have separate buckets")

	assert.Equal(t, 0, l.Prune(), "drained buckets are kept")

	unlimited := newUserLimiter(0, 1)
	for i := 0; i < 10; i++ {
		assert.True(t, unlimited.Allow(1))
	}
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"":    0,
		"0":   0,
		"90":  90 * time.Second,
		"45s": 45 * time.Second,
		"14m": 14 * time.Minute,
		"2H":  2 * time.Hour,
		"30d": 30 * 24 * time.Hour,
	}
	for in, want := range tests {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDuration("1w")
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "∞", FormatDuration(0))
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "14m 0s", FormatDuration(14*time.Minute))
	assert.Equal(t, "2h 30m", FormatDuration(150*time.Minute))
	assert.Equal(t, "30d 0h", FormatDuration(30*24*time.Hour))
}
