package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// --- Globals & Styles ---

var (
	// Level colors
	infoColor  = color.New()
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	fatalColor = color.New(color.FgRed, color.Bold)

	// Component colors
	databaseColor = color.New()
	physiqueColor = color.New(color.FgMagenta)
	pendingColor  = color.New(color.FgMagenta)
	metricsColor  = color.New(color.FgBlue)

	// Global state
	DefaultTimeFormat = "15:04:05"
	IsSilent          = false
	LogToFile         = false
	Logger            *slog.Logger

	// Internal state
	logFile             *os.File
	logMu               sync.Mutex
	onRateLimitExceeded func()
)

// --- Initialization ---

func init() {
	InitLogger(false, false)
}

// InitLogger initializes the global structured logger
func InitLogger(silent bool, saveToFile bool) {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	LogToFile = saveToFile
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writer io.Writer = os.Stdout
	var err error

	if LogToFile {
		logName := GetProjectName() + ".log"
		if exePath, exeErr := os.Executable(); exeErr == nil {
			logName = filepath.Base(exePath) + ".log"
		}

		logFile, err = os.OpenFile(logName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", logName, err)
		} else {
			writer = io.MultiWriter(os.Stdout, NewStripANSIWriter(logFile))
		}
	}

	handler := NewBotLogHandler(writer, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func SetSilentMode(silent bool) {
	InitLogger(silent, LogToFile)
}

// --- Public Logging API ---

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), slog.LevelError+4, msg)
	panic(msg)
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

// Component Loggers

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogPhysique(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "physique"))
}

func LogPending(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "pending"))
}

func LogMetrics(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "metrics"))
}

// --- Log Handler Implementation ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type BotLogHandler struct {
	w    io.Writer
	opts *BotLogHandlerOptions
	mu   *sync.Mutex
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

func (h *BotLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	timeStr := time.Now().Format(DefaultTimeFormat)
	levelStr := "DEBUG"
	levelColor := infoColor

	switch {
	case r.Level >= slog.LevelError+4:
		levelStr = "FATAL"
		levelColor = fatalColor
	case r.Level >= slog.LevelError:
		levelStr = "ERROR"
		levelColor = errorColor
	case r.Level >= slog.LevelWarn:
		levelStr = "WARN"
		levelColor = warnColor
	case r.Level >= slog.LevelInfo:
		levelStr = "INFO"
	}

	// disgo reports 429s through the default logger
	if r.Level >= slog.LevelWarn && strings.Contains(strings.ToLower(r.Message), "rate limit exceeded") {
		if onRateLimitExceeded != nil {
			go onRateLimitExceeded()
		}
	}

	component := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	fmt.Fprintf(h.w, "%s", timeStr)

	if component != "" {
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(getComponentColor(component), fmt.Sprintf("[%s] %s", component, r.Message)))
	} else {
		displayMsg := fmt.Sprintf("[%s] %s", levelStr, r.Message)
		if levelStr == "INFO" && strings.HasPrefix(r.Message, "[") {
			if idx := strings.Index(r.Message, "]"); idx > 0 && idx < 20 {
				displayMsg = r.Message
			}
		}
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(levelColor, displayMsg))
	}

	return nil
}

func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *BotLogHandler) WithGroup(name string) slog.Handler       { return h }

// --- Formatting Helpers ---

func getComponentColor(name string) *color.Color {
	switch name {
	case "DATABASE":
		return databaseColor
	case "PHYSIQUE":
		return physiqueColor
	case "PENDING":
		return pendingColor
	case "METRICS":
		return metricsColor
	default:
		return color.New(color.FgCyan)
	}
}

func colorizeWithResets(c *color.Color, text string) string {
	if !strings.Contains(text, "\x1b[0m") {
		return c.Sprint(text)
	}

	marker := "@@@MSG@@@"
	wrapped := c.Sprint(marker)
	idx := strings.Index(wrapped, marker)
	if idx <= 0 {
		return text
	}
	startSeq := wrapped[:idx]

	modifiedText := strings.ReplaceAll(text, "\x1b[0m", "\x1b[0m"+startSeq)
	return c.Sprint(modifiedText)
}

// --- Utilities & State ---

func GetLogPath() string {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile == nil {
		return ""
	}
	return logFile.Name()
}

func OnRateLimitExceeded(fn func()) {
	logMu.Lock()
	defer logMu.Unlock()
	onRateLimitExceeded = fn
}

// --- ANSI Stripper ---

type StripANSIWriter struct {
	w  io.Writer
	re *regexp.Regexp
}

func NewStripANSIWriter(w io.Writer) *StripANSIWriter {
	return &StripANSIWriter{
		w:  w,
		re: regexp.MustCompile(`\x1b\[[0-9;]*m`),
	}
}

func (s *StripANSIWriter) Write(p []byte) (n int, err error) {
	clean := s.re.ReplaceAll(p, []byte(""))
	_, err = s.w.Write(clean)
	return len(p), err
}

// --- Message Constants ---

const (
	// --- Infrastructure & Lifecycle ---
	MsgConfigFailedToLoad  = "Failed to load config: %v"
	MsgConfigMissingToken  = "DISCORD_TOKEN is not set in .env file"
	MsgConfigBadDuration   = "invalid %s: %w"
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgDaemonStarting      = "Starting..."
	MsgBotStarting         = "Starting %s..."
	MsgBotReady            = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown         = "Shutting down %s..."
	MsgBotKillingOld       = "Killing running instance... (PID: %d)"
	MsgBotOldTerminated    = "Old instance terminated."
	MsgBotRegisterFail     = "Command registration failed: %v"
	MsgGenericError        = "%v"

	// --- Command Loader & Registry ---
	MsgLoaderSyncCommands       = "Syncing %s commands..."
	MsgLoaderUpToDate           = "[LOADER] Commands are up to date. (Hash: %s)"
	MsgLoaderCleanup            = "[CLEANUP] Removing commands from previous dev guild: %s"
	MsgLoaderDevStarting        = "[DEV] Registering commands to guild: %s"
	MsgLoaderDevRegistered      = "[DEV] Registered: %s"
	MsgLoaderDevFail            = "[DEV] Registration failed: %v"
	MsgLoaderDevGlobalClear     = "[DEV] Verifying global commands are cleared..."
	MsgLoaderDevGlobalClearFail = "[DEV] Global clear skipped (likely rate limited): %v"
	MsgLoaderProdStarting       = "[PROD] Registering commands globally..."
	MsgLoaderProdRegistered     = "[PROD] Registered: %s"
	MsgLoaderProdFail           = "[PROD] Global registration failed: %w"
	MsgLoaderScanStarting       = "[SCAN] Checking all guilds for ghost commands..."
	MsgLoaderScanCleared        = "[SCAN] Cleared ghost commands from: %s (%s)"
	MsgLoaderPanicRecovered     = "Panic recovered in handler: %v"
	MsgLoaderRespondFail        = "Failed to respond to interaction: %v"

	// --- Pending Interactions ---
	MsgPendingStored           = "Stored %s prompt for user %s"
	MsgPendingOverwritten      = "Replaced unanswered prompt for user %s"
	MsgPendingSwept            = "Evicted %d expired prompt(s)"
	MsgPendingJanitorStop      = "Stopping pending janitor..."
	MsgPendingPromptDeleteFail = "Failed to delete expired prompt: %v"

	// --- Physique Workflow (logs) ---
	MsgPhysiqueProfileCreated  = "Created profile for %s (%s)"
	MsgPhysiqueConsentRecorded = "User %s answered consent prompt: %t"
	MsgPhysiqueWorkflowFail    = "Physique workflow failed for user %s: %v"
	MsgPhysiqueRestoreAfterErr = "Restored consent prompt for user %s after storage error"

	// --- Physique Workflow (user facing) ---
	MsgPhysiqueConsentPrompt = "**Sauvegarder tes données ?**\n" +
		"Veux-tu que je garde tes mensurations pour ne pas avoir à les ressaisir à chaque fois ?\n" +
		"-# Tu pourras changer d'avis avec `/physique consentement`."
	MsgPhysiqueUpdatePrompt = "**Tes données datent du %s.**\n" +
		"Veux-tu les mettre à jour avant le calcul ?"
	MsgPhysiqueConsentYes     = "✅ Tes données seront sauvegardées."
	MsgPhysiqueConsentNo      = "❌ Tes données ne seront pas sauvegardées."
	MsgPhysiqueUpdateNo       = "👍 Calcul avec tes données enregistrées."
	MsgPhysiqueUpdateYes      = "✏️ Mise à jour demandée."
	MsgPhysiqueUpdateReissue  = "Relance la commande en renseignant tes nouvelles valeurs, elles remplaceront les anciennes."
	MsgPhysiqueButtonYes      = "Oui"
	MsgPhysiqueButtonNo       = "Non"
	MsgPhysiqueConsentSet     = "Consentement enregistré : **%s**."
	MsgPhysiqueProfileHeader  = "**Ton profil physique**\n"
	MsgPhysiqueProfileLine    = "> %s : `%s`\n"
	MsgPhysiqueProfileUpdated = "-# Dernière mise à jour : <t:%d:R>"
	MsgPhysiqueConsentGranted = "oui"
	MsgPhysiqueConsentDenied  = "non"
	MsgPhysiqueConsentUnset   = "non renseigné"
	ErrPhysiqueNoPending      = "Aucune demande en attente. Relance la commande."
	ErrPhysiqueNotYourPrompt  = "Ce bouton ne t'est pas destiné."
	ErrPhysiqueGeneric        = "Une erreur est survenue, réessaie plus tard."
	ErrPhysiqueMissingFields  = "Il manque des informations pour ce calcul : %s."
	ErrPhysiqueBadChoice      = "Choix invalide."
	ErrPhysiqueNoProfile      = "Aucun profil enregistré. Utilise une commande `/physique` pour commencer."
	ErrCommandRateLimited     = "Doucement ! Réessaie dans quelques secondes."

	// --- Calculations ---
	MsgCaloriesResult = "**Dépense énergétique estimée**\n" +
		"> Métabolisme de base : `%.0f kcal`\n" +
		"> Activité quotidienne : `%.0f kcal`\n" +
		"> Entraînement (moyenne/jour) : `%.0f kcal`\n" +
		"> Effet thermique des aliments : `%.0f kcal`\n" +
		"**Total : `%.0f kcal/jour`**"
	MsgIMCResult      = "**IMC : `%.1f`** (%s)"
	MsgForceResult    = "**1RM estimé pour %.1f kg × %d**\n> Epley : `%.1f kg`\n> Brzycki : `%.1f kg`"
	MsgForceRatio     = "\n> Ratio poids de corps : `%.2f`"
	ErrForceBadParams = "La charge doit être positive et les répétitions comprises entre 1 et 36."

	// --- Guide ---
	MsgGuidePage     = "-# Page %d/%d"
	MsgGuidePrev     = "◀"
	MsgGuideNext     = "▶"
	ErrGuideNotYours = "Lance ton propre `/guide` pour naviguer."

	// --- Diagnostics ---
	MsgDiagnosticEmpty           = "Aucune demande en attente."
	MsgDiagnosticHead            = "**Demandes en attente (%d)**\n"
	MsgDiagnosticLine            = "> <@%s> · `%s` · %s · expire %s\n"
	MsgDiagnosticConsoleDisabled = "L'écriture des logs dans un fichier est désactivée."
	MsgDiagnosticConsoleEmpty    = "Aucun log disponible."
	MsgDiagnosticConsoleFail     = "Failed to read log file: %v"
	ErrDiagnosticOwnerOnly       = "Commande réservée aux propriétaires du bot."

	// --- Metrics ---
	MsgMetricsListening = "Serving metrics on %s"
	MsgMetricsServeFail = "Metrics server stopped: %v"
)
