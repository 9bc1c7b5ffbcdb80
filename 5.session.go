package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
)

// ===========================
// Command Registration
// ===========================

func init() {
	adminPerm := discord.PermissionAdministrator

	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "diagnostic",
		Description:              "Outils d'administration",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pending",
				Description: "Liste les demandes en attente de réponse",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stats",
				Description: "Statistiques du processus et du bot",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "console",
				Description: "Affiche les derniers logs",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "lignes",
						Description: "Nombre de lignes (20 par défaut)",
						MinValue:    intPtr(1),
						MaxValue:    intPtr(100),
					},
				},
			},
		},
	}, handleDiagnostic)
}

const (
	statsAnsiPink     = "\x1b[35m"
	statsAnsiPinkBold = "\x1b[1;35m"
	statsAnsiReset    = "\x1b[0m"

	consoleDefaultLines = 20
	consoleMaxChars     = 1900
	consoleReadWindow   = 64 * 1024
)

func handleDiagnostic(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	subCmd := data.SubCommandName
	if subCmd == nil {
		return
	}

	inv := newCommandInvocation(event)
	if GlobalConfig != nil && !GlobalConfig.IsOwner(inv.UserID()) {
		if err := inv.Reply(Reply{Content: ErrDiagnosticOwnerOnly, Ephemeral: true}); err != nil {
			LogWarn(MsgLoaderRespondFail, err)
		}
		return
	}

	var content string
	switch *subCmd {
	case "pending":
		content = renderPending(physique.Pending().List())
	case "stats":
		content = renderStats(AppContext, appStats{
			GatewayPing: event.Client().Gateway.Latency(),
			Pending:     len(physique.Pending().List()),
		})
	case "console":
		lines := consoleDefaultLines
		if n, ok := data.OptInt("lignes"); ok {
			lines = n
		}
		content = renderConsole(GetLogPath(), lines)
	default:
		return
	}

	if err := inv.Reply(Reply{Content: content, Ephemeral: true}); err != nil {
		LogWarn(MsgLoaderRespondFail, err)
	}
}

// ===========================
// Pending
// ===========================

// renderPending fits the listing into a single text display.
func renderPending(entries []PendingEntry) string {
	if len(entries) == 0 {
		return MsgDiagnosticEmpty
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(MsgDiagnosticHead, len(entries)))
	for _, e := range entries {
		expires := FormatDuration(0)
		if !e.ExpiresAt.IsZero() {
			expires = fmt.Sprintf("<t:%d:R>", e.ExpiresAt.Unix())
		}
		sb.WriteString(fmt.Sprintf(MsgDiagnosticLine,
			e.UserID, e.Interaction.Kind(), fmt.Sprintf("<t:%d:R>", e.CreatedAt.Unix()), expires))
	}
	return Truncate(sb.String(), 4000)
}

// ===========================
// Stats
// ===========================

type appStats struct {
	GatewayPing time.Duration
	Pending     int
}

func renderStats(ctx context.Context, s appStats) string {
	return fmt.Sprintf("```ansi\n%s\n\n%s\n```", systemStats(), appStatsBlock(ctx, s))
}

func systemStats() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	usedMem := float64(m.HeapAlloc) / 1024 / 1024
	totalMem := float64(m.Sys) / 1024 / 1024

	return strings.Join([]string{
		statsTitle("System"),
		statsLine("Platform", fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)),
		statsLine("Go Version", runtime.Version()),
		statsLine("Memory", fmt.Sprintf("%.2f MB / %.2f MB (Sys)", usedMem, totalMem)),
		statsLine("Goroutines", fmt.Sprintf("%d", runtime.NumGoroutine())),
	}, "\n")
}

func appStatsBlock(ctx context.Context, s appStats) string {
	lines := []string{
		statsTitle("App"),
		statsLine("Uptime", FormatDuration(time.Since(StartupTime).Truncate(time.Second))),
		statsLine("Pending", fmt.Sprintf("%d", s.Pending)),
	}
	if s.GatewayPing > 0 {
		lines = append(lines, statsLine("Gateway", fmt.Sprintf("%dms", s.GatewayPing.Milliseconds())))
	}

	if DB != nil {
		start := time.Now()
		n, err := NewSQLProfileStore(DB).CountProfiles(ctx)
		if err == nil {
			lines = append(lines,
				statsLine("Profiles", fmt.Sprintf("%d", n)),
				statsLine("Database", fmt.Sprintf("%.2fms", float64(time.Since(start).Microseconds())/1000)),
			)
		}
	}
	return strings.Join(lines, "\n")
}

func statsTitle(t string) string { return statsAnsiPink + t + statsAnsiReset }

func statsLine(key, val string) string {
	return statsAnsiPink + "> " + key + ":" + statsAnsiReset + " " + statsAnsiPinkBold + val + statsAnsiReset
}

// ===========================
// Console
// ===========================

func renderConsole(path string, lines int) string {
	if path == "" {
		return MsgDiagnosticConsoleDisabled
	}
	logs, err := readLogTail(path, lines)
	if err != nil {
		LogWarn(MsgDiagnosticConsoleFail, err)
		return ErrPhysiqueGeneric
	}
	if logs == "" {
		return MsgDiagnosticConsoleEmpty
	}
	return fmt.Sprintf("```ansi\n%s\n```", logs)
}

// readLogTail returns up to n trailing lines of the file, cut to fit a message.
func readLogTail(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	size := info.Size()
	start := size - consoleReadWindow
	if start < 0 {
		start = 0
	}
	buf := make([]byte, size-start)
	if _, err := f.ReadAt(buf, start); err != nil {
		return "", err
	}

	text := strings.TrimRight(string(buf), "\n")
	if text == "" {
		return "", nil
	}
	all := strings.Split(text, "\n")
	if start > 0 && len(all) > 1 {
		all = all[1:] // first line is likely partial
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}

	logs := strings.Join(all, "\n")
	if len(logs) > consoleMaxChars {
		cut := len(logs) - consoleMaxChars
		if nl := strings.IndexByte(logs[cut:], '\n'); nl != -1 {
			logs = logs[cut+nl+1:]
		} else {
			logs = logs[cut:]
		}
	}
	return logs, nil
}
