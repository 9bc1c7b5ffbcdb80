package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
)

// physique is set up in run before the gateway opens.
var physique *Physique

func init() {
	RegisterCommand(discord.SlashCommandCreate{
		Name:        "physique",
		Description: "Calculs à partir de tes données physiques",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "calories",
				Description: "Estime ta dépense énergétique journalière",
				Options:     physiqueOptions(),
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "imc",
				Description: "Calcule ton indice de masse corporelle",
				Options:     physiqueOptions(),
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "force",
				Description: "Estime ton 1RM à partir d'une série",
				Options: append([]discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionFloat{
						Name:        "charge",
						Description: "Charge soulevée (kg)",
						Required:    true,
						MinValue:    floatPtr(0.5),
						MaxValue:    floatPtr(1000),
					},
					discord.ApplicationCommandOptionInt{
						Name:        "reps",
						Description: "Répétitions réalisées",
						Required:    true,
						MinValue:    intPtr(1),
						MaxValue:    intPtr(36),
					},
				}, physiqueOptions()...),
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "profil",
				Description: "Affiche tes données enregistrées",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "consentement",
				Description: "Choisis si tes données sont sauvegardées",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "valeur",
						Description: "Sauvegarder mes données",
						Required:    true,
					},
				},
			},
		},
	}, handlePhysique)

	RegisterCommand(discord.SlashCommandCreate{
		Name:        "guide",
		Description: "Petit guide des calculs disponibles",
	}, handleGuide)

	RegisterComponentHandler(consentHandlerName+":", handleConsentButton)
	RegisterComponentHandler(updateHandlerName+":", handleUpdateButton)
	RegisterComponentHandler(guideHandlerName+":", handleGuideButton)
}

func physiqueOptions() []discord.ApplicationCommandOption {
	return []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionFloat{Name: FieldWeight, Description: "Poids (kg)", MinValue: floatPtr(20), MaxValue: floatPtr(400)},
		discord.ApplicationCommandOptionFloat{Name: FieldHeight, Description: "Taille (cm)", MinValue: floatPtr(100), MaxValue: floatPtr(250)},
		discord.ApplicationCommandOptionInt{Name: FieldAge, Description: "Âge (ans)", MinValue: intPtr(10), MaxValue: intPtr(120)},
		discord.ApplicationCommandOptionString{
			Name:        FieldSex,
			Description: "Sexe",
			Choices: []discord.ApplicationCommandOptionChoiceString{
				{Name: "Homme", Value: string(SexMale)},
				{Name: "Femme", Value: string(SexFemale)},
			},
		},
		discord.ApplicationCommandOptionString{
			Name:        FieldActivity,
			Description: "Niveau d'activité hors entraînement",
			Choices: []discord.ApplicationCommandOptionChoiceString{
				{Name: "Sédentaire", Value: string(ActivitySedentary)},
				{Name: "Légèrement actif", Value: string(ActivityLight)},
				{Name: "Modérément actif", Value: string(ActivityModerate)},
				{Name: "Très actif", Value: string(ActivityActive)},
				{Name: "Extrêmement actif", Value: string(ActivityExtreme)},
			},
		},
		discord.ApplicationCommandOptionInt{Name: FieldTrainingDays, Description: "Séances par semaine", MinValue: intPtr(0), MaxValue: intPtr(7)},
		discord.ApplicationCommandOptionInt{Name: FieldSessionMinutes, Description: "Durée d'une séance (min)", MinValue: intPtr(0), MaxValue: intPtr(600)},
		discord.ApplicationCommandOptionString{
			Name:        FieldIntensity,
			Description: "Intensité des séances",
			Choices: []discord.ApplicationCommandOptionChoiceString{
				{Name: "Faible", Value: string(IntensityLow)},
				{Name: "Modérée", Value: string(IntensityModerate)},
				{Name: "Élevée", Value: string(IntensityHigh)},
			},
		},
		discord.ApplicationCommandOptionFloat{Name: FieldTEF, Description: "Effet thermique des aliments (0 à 0.3)", MinValue: floatPtr(0), MaxValue: floatPtr(0.3)},
	}
}

// optionSource is the subset of slash command data used to read physique options.
type optionSource interface {
	OptFloat(name string) (float64, bool)
	OptInt(name string) (int, bool)
	OptString(name string) (string, bool)
}

func physiqueDataFromOptions(data optionSource) PhysiqueData {
	var d PhysiqueData
	if v, ok := data.OptFloat(FieldWeight); ok {
		d.Weight = floatPtr(v)
	}
	if v, ok := data.OptFloat(FieldHeight); ok {
		d.Height = floatPtr(v)
	}
	if v, ok := data.OptInt(FieldAge); ok {
		d.Age = intPtr(v)
	}
	if v, ok := data.OptString(FieldSex); ok {
		d.Sex = ptrTo(Sex(v))
	}
	if v, ok := data.OptString(FieldActivity); ok {
		d.Activity = ptrTo(ActivityLevel(v))
	}
	if v, ok := data.OptInt(FieldTrainingDays); ok {
		d.TrainingDays = intPtr(v)
	}
	if v, ok := data.OptInt(FieldSessionMinutes); ok {
		d.SessionMinutes = intPtr(v)
	}
	if v, ok := data.OptString(FieldIntensity); ok {
		d.Intensity = ptrTo(Intensity(v))
	}
	if v, ok := data.OptFloat(FieldTEF); ok {
		d.TEF = floatPtr(v)
	}
	return d
}

// ===========================
// Command Handlers
// ===========================

func handlePhysique(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	subCmd := data.SubCommandName
	if subCmd == nil {
		return
	}

	inv := newCommandInvocation(event)
	var err error
	switch *subCmd {
	case "calories", "imc":
		err = physique.ReviewStale(AppContext, inv, physiqueDataFromOptions(data), Continuation{Calculation: *subCmd})
	case "force":
		charge, _ := data.OptFloat("charge")
		reps, _ := data.OptInt("reps")
		if _, _, ferr := oneRepMax(charge, reps); ferr != nil {
			err = ferr
			break
		}
		err = physique.ReviewStale(AppContext, inv, physiqueDataFromOptions(data), Continuation{
			Calculation: "force",
			Params:      map[string]float64{"charge": charge, "reps": float64(reps)},
		})
	case "profil":
		err = showProfile(AppContext, inv)
	case "consentement":
		value, _ := data.OptBool("valeur")
		err = setConsentDirectly(AppContext, inv, value)
	}

	if err != nil {
		reportWorkflowError(inv, err)
	}
}

func showProfile(ctx context.Context, inv Invocation) error {
	profile, err := physique.profiles.GetProfile(ctx, inv.UserID())
	if err != nil {
		return err
	}
	if profile == nil {
		return inv.Reply(Reply{Content: ErrPhysiqueNoProfile, Ephemeral: true})
	}
	return inv.Reply(Reply{Content: renderProfile(profile), Ephemeral: true})
}

func renderProfile(p *Profile) string {
	var sb strings.Builder
	sb.WriteString(MsgPhysiqueProfileHeader)

	d := p.Data
	line := func(label, value string) {
		sb.WriteString(fmt.Sprintf(MsgPhysiqueProfileLine, label, value))
	}
	if d.Weight != nil {
		line("Poids", FormatNumber(*d.Weight)+" kg")
	}
	if d.Height != nil {
		line("Taille", FormatNumber(*d.Height)+" cm")
	}
	if d.Age != nil {
		line("Âge", strconv.Itoa(*d.Age)+" ans")
	}
	if d.Sex != nil {
		line("Sexe", string(*d.Sex))
	}
	if d.Activity != nil {
		line("Activité", string(*d.Activity))
	}
	if d.TrainingDays != nil {
		line("Séances / semaine", strconv.Itoa(*d.TrainingDays))
	}
	if d.SessionMinutes != nil {
		line("Durée de séance", strconv.Itoa(*d.SessionMinutes)+" min")
	}
	if d.Intensity != nil {
		line("Intensité", string(*d.Intensity))
	}
	if d.TEF != nil {
		line("TEF", FormatNumber(*d.TEF))
	}
	line("Consentement", p.Consent.Label())
	sb.WriteString(fmt.Sprintf(MsgPhysiqueProfileUpdated, p.UpdatedAt.Unix()))
	return sb.String()
}

func setConsentDirectly(ctx context.Context, inv Invocation, value bool) error {
	if _, err := physique.loadProfile(ctx, inv); err != nil {
		return err
	}
	if err := physique.profiles.SetConsent(ctx, inv.UserID(), value); err != nil {
		return err
	}
	LogPhysique(MsgPhysiqueConsentRecorded, inv.UserID(), value)
	return inv.Reply(Reply{Content: fmt.Sprintf(MsgPhysiqueConsentSet, consentFromChoice(value).Label()), Ephemeral: true})
}

var errBadForceParams = errors.New("invalid load or repetitions")

// reportWorkflowError turns a workflow error into something the member can read.
func reportWorkflowError(inv Invocation, err error) {
	content := ErrPhysiqueGeneric

	var missing *MissingFieldsError
	switch {
	case errors.As(err, &missing):
		content = fmt.Sprintf(ErrPhysiqueMissingFields, strings.Join(missing.Fields, ", "))
	case errors.Is(err, errBadForceParams):
		content = ErrForceBadParams
	default:
		LogError(MsgPhysiqueWorkflowFail, inv.UserID(), err)
	}

	if rerr := inv.Reply(Reply{Content: content, Ephemeral: true}); rerr != nil {
		LogWarn(MsgLoaderRespondFail, rerr)
	}
}

// ===========================
// Component Handlers
// ===========================

func handleConsentButton(event *events.ComponentInteractionCreate) {
	handleChoiceButton(event, physique.HandleConsent)
}

func handleUpdateButton(event *events.ComponentInteractionCreate) {
	handleChoiceButton(event, physique.HandleUpdate)
}

func handleChoiceButton(event *events.ComponentInteractionCreate, handle func(context.Context, Invocation, string, snowflake.ID) error) {
	inv := newComponentInvocation(event)
	_, choice, ownerID, err := ParseCustomID(event.Data.CustomID())
	if err != nil {
		LogWarn(MsgGenericError, err)
		if rerr := inv.Reply(Reply{Content: ErrPhysiqueBadChoice, Ephemeral: true}); rerr != nil {
			LogWarn(MsgLoaderRespondFail, rerr)
		}
		return
	}
	if err := handle(AppContext, inv, choice, ownerID); err != nil {
		reportWorkflowError(inv, err)
	}
}

// ===========================
// Calculations
// ===========================

func registerCalculations(w *Physique) {
	w.RegisterCalculation("calories", calculateCalories)
	w.RegisterCalculation("imc", calculateIMC)
	w.RegisterCalculation("force", calculateForce)
}

var activityFactors = map[ActivityLevel]float64{
	ActivitySedentary: 1.2,
	ActivityLight:     1.375,
	ActivityModerate:  1.55,
	ActivityActive:    1.725,
	ActivityExtreme:   1.9,
}

var intensityMETs = map[Intensity]float64{
	IntensityLow:      3.5,
	IntensityModerate: 5.0,
	IntensityHigh:     8.0,
}

const defaultTEF = 0.10

type caloriesBreakdown struct {
	BMR      float64
	Activity float64 // on top of BMR
	Training float64 // daily average
	TEF      float64
	Total    float64
}

// estimateCalories uses Mifflin-St Jeor. Training is counted only when days, duration and intensity are all known.
func estimateCalories(d PhysiqueData) (caloriesBreakdown, error) {
	if err := d.Require(FieldWeight, FieldHeight, FieldAge, FieldSex, FieldActivity); err != nil {
		return caloriesBreakdown{}, err
	}
	factor, ok := activityFactors[*d.Activity]
	if !ok {
		return caloriesBreakdown{}, fmt.Errorf("unknown activity level %q", *d.Activity)
	}

	weight, height, age := *d.Weight, *d.Height, float64(*d.Age)
	bmr := 10*weight + 6.25*height - 5*age
	if *d.Sex == SexFemale {
		bmr -= 161
	} else {
		bmr += 5
	}

	var training float64
	if d.TrainingDays != nil && d.SessionMinutes != nil && d.Intensity != nil {
		hours := float64(*d.SessionMinutes) / 60
		training = intensityMETs[*d.Intensity] * weight * hours * float64(*d.TrainingDays) / 7
	}

	tef := defaultTEF
	if d.TEF != nil {
		tef = *d.TEF
	}

	base := bmr*factor + training
	return caloriesBreakdown{
		BMR:      bmr,
		Activity: bmr * (factor - 1),
		Training: training,
		TEF:      base * tef,
		Total:    base * (1 + tef),
	}, nil
}

func calculateCalories(_ context.Context, inv Invocation, d PhysiqueData, _ map[string]float64) error {
	c, err := estimateCalories(d)
	if err != nil {
		return err
	}
	return inv.Reply(Reply{
		Content:   fmt.Sprintf(MsgCaloriesResult, c.BMR, c.Activity, c.Training, c.TEF, c.Total),
		Ephemeral: true,
	})
}

// bodyMassIndex takes kilograms and centimetres and returns the index with its WHO category.
func bodyMassIndex(weight, height float64) (float64, string) {
	m := height / 100
	bmi := weight / (m * m)
	switch {
	case bmi < 18.5:
		return bmi, "insuffisance pondérale"
	case bmi < 25:
		return bmi, "corpulence normale"
	case bmi < 30:
		return bmi, "surpoids"
	case bmi < 35:
		return bmi, "obésité modérée"
	case bmi < 40:
		return bmi, "obésité sévère"
	}
	return bmi, "obésité morbide"
}

func calculateIMC(_ context.Context, inv Invocation, d PhysiqueData, _ map[string]float64) error {
	if err := d.Require(FieldWeight, FieldHeight); err != nil {
		return err
	}
	bmi, category := bodyMassIndex(*d.Weight, *d.Height)
	return inv.Reply(Reply{Content: fmt.Sprintf(MsgIMCResult, bmi, category), Ephemeral: true})
}

func oneRepMax(charge float64, reps int) (epley, brzycki float64, err error) {
	if charge <= 0 || reps < 1 || reps > 36 {
		return 0, 0, errBadForceParams
	}
	if reps == 1 {
		return charge, charge, nil
	}
	epley = charge * (1 + float64(reps)/30)
	brzycki = charge * 36 / (37 - float64(reps))
	return epley, brzycki, nil
}

func calculateForce(_ context.Context, inv Invocation, d PhysiqueData, params map[string]float64) error {
	charge := params["charge"]
	reps := int(math.Round(params["reps"]))
	epley, brzycki, err := oneRepMax(charge, reps)
	if err != nil {
		return err
	}

	content := fmt.Sprintf(MsgForceResult, charge, reps, epley, brzycki)
	if d.Weight != nil && *d.Weight > 0 {
		bodyweight := *d.Weight
		content += fmt.Sprintf(MsgForceRatio, (epley+brzycki)/2/bodyweight)
	}
	return inv.Reply(Reply{Content: content, Ephemeral: true})
}

// ===========================
// Guide
// ===========================

const guideHandlerName = "guide"

var guidePages = []string{
	"**Guide · Les calculs**\n" +
		"`/physique calories` estime ta dépense énergétique journalière.\n" +
		"`/physique imc` calcule ton indice de masse corporelle.\n" +
		"`/physique force` estime ta charge maximale sur une répétition.",
	"**Guide · Tes données**\n" +
		"Au premier calcul, le bot te demande si tu veux sauvegarder tes données.\n" +
		"Si tu acceptes, les valeurs manquantes sont complétées avec celles enregistrées, " +
		"et chaque nouvelle valeur remplace l'ancienne.\n" +
		"`/physique profil` affiche ce qui est enregistré.",
	"**Guide · Consentement**\n" +
		"`/physique consentement` change ton choix à tout moment.\n" +
		"Si tu refuses, seules les valeurs données dans la commande sont utilisées.",
}

func guideReply(page int, userID snowflake.ID) Reply {
	r := Reply{
		Content:   guidePages[page] + "\n\n" + fmt.Sprintf(MsgGuidePage, page+1, len(guidePages)),
		Ephemeral: true,
	}
	if page > 0 {
		r.Buttons = append(r.Buttons, ReplyButton{
			Label:    MsgGuidePrev,
			CustomID: EncodeCustomID(guideHandlerName, strconv.Itoa(page-1), userID),
			Style:    discord.ButtonStyleSecondary,
		})
	}
	if page < len(guidePages)-1 {
		r.Buttons = append(r.Buttons, ReplyButton{
			Label:    MsgGuideNext,
			CustomID: EncodeCustomID(guideHandlerName, strconv.Itoa(page+1), userID),
			Style:    discord.ButtonStylePrimary,
		})
	}
	return r
}

func handleGuide(event *events.ApplicationCommandInteractionCreate) {
	inv := newCommandInvocation(event)
	if err := inv.Reply(guideReply(0, inv.UserID())); err != nil {
		LogWarn(MsgLoaderRespondFail, err)
	}
}

func handleGuideButton(event *events.ComponentInteractionCreate) {
	inv := newComponentInvocation(event)
	if err := navigateGuide(inv, event.Data.CustomID()); err != nil {
		LogWarn(MsgLoaderRespondFail, err)
	}
}

func navigateGuide(inv Invocation, customID string) error {
	_, pageStr, ownerID, err := ParseCustomID(customID)
	if err != nil {
		return inv.Reply(Reply{Content: ErrPhysiqueBadChoice, Ephemeral: true})
	}
	if ownerID != inv.UserID() {
		return inv.Reply(Reply{Content: ErrGuideNotYours, Ephemeral: true})
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 || page >= len(guidePages) {
		return inv.Reply(Reply{Content: ErrPhysiqueBadChoice, Ephemeral: true})
	}
	return inv.Update(guideReply(page, ownerID))
}
