package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"baskt-core/internal/alerts"
	"baskt-core/internal/protocol"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID    int64                  `json:"update_id"`
	Time        time.Time              `json:"time"`
	Action      string                 `json:"action"`
	Command     string                 `json:"command"`
	UserID      int64                  `json:"user_id"`
	Username    string                 `json:"username,omitempty"`
	ChatID      int64                  `json:"chat_id"`
	FlagsBefore *protocol.FeatureFlags `json:"flags_before,omitempty"`
	FlagsAfter  *protocol.FeatureFlags `json:"flags_after,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorRecovered() {
			a.log.Info("telegram operator recovered")
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(), nil
	case "pause":
		return a.setTrading(ctx, meta, "pause", false)
	case "resume":
		return a.setTrading(ctx, meta, "resume", true)
	case "flags":
		return a.flagsStatus(), nil
	case "flag":
		return a.handleFlagCommand(ctx, args, meta)
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) setTrading(ctx context.Context, meta operatorMeta, action string, allow bool) (string, error) {
	before := a.engine.Config()
	if before.Features.AllowTrading == allow {
		if allow {
			return "trading already active", nil
		}
		return "trading already paused", nil
	}
	next := before
	next.Features.AllowTrading = allow
	if err := a.engine.UpdateConfig(a.admin, next, time.Now().Unix()); err != nil {
		return "", err
	}
	after := a.engine.Config()
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID:    meta.UpdateID,
		Time:        time.Now().UTC(),
		Action:      action,
		Command:     meta.Raw,
		UserID:      meta.UserID,
		Username:    meta.Username,
		ChatID:      meta.ChatID,
		FlagsBefore: &before.Features,
		FlagsAfter:  &after.Features,
	})
	if allow {
		return "trading resumed", nil
	}
	return "trading paused", nil
}

func (a *App) handleFlagCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) != 2 {
		return "", errors.New("usage: /flag <name> on|off")
	}
	var enable bool
	switch strings.ToLower(args[1]) {
	case "on":
		enable = true
	case "off":
		enable = false
	default:
		return "", errors.New("usage: /flag <name> on|off")
	}
	before := a.engine.Config()
	next := before
	if err := setFeatureFlag(&next.Features, strings.ToLower(args[0]), enable); err != nil {
		return "", err
	}
	if err := a.engine.UpdateConfig(a.admin, next, time.Now().Unix()); err != nil {
		return "", err
	}
	after := a.engine.Config()
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID:    meta.UpdateID,
		Time:        time.Now().UTC(),
		Action:      "flag_set",
		Command:     meta.Raw,
		UserID:      meta.UserID,
		Username:    meta.Username,
		ChatID:      meta.ChatID,
		FlagsBefore: &before.Features,
		FlagsAfter:  &after.Features,
	})
	return fmt.Sprintf("flag %s set to %t", strings.ToLower(args[0]), enable), nil
}

func setFeatureFlag(flags *protocol.FeatureFlags, name string, enable bool) error {
	target, ok := featureFlagFields(flags)[name]
	if !ok {
		return fmt.Errorf("unknown flag: %s", name)
	}
	*target = enable
	return nil
}

func featureFlagFields(flags *protocol.FeatureFlags) map[string]*bool {
	return map[string]*bool{
		"trading":               &flags.AllowTrading,
		"open_position":         &flags.AllowOpenPosition,
		"close_position":        &flags.AllowClosePosition,
		"add_collateral":        &flags.AllowAddCollateral,
		"liquidations":          &flags.AllowLiquidations,
		"baskt_creation":        &flags.AllowBasktCreation,
		"baskt_update":          &flags.AllowBasktUpdate,
		"add_liquidity":         &flags.AllowAddLiquidity,
		"remove_liquidity":      &flags.AllowRemoveLiquidity,
		"pnl_withdrawal":        &flags.AllowPnlWithdrawal,
		"collateral_withdrawal": &flags.AllowCollateralWithdrawal,
	}
}

func (a *App) operatorStatus() string {
	cfg := a.engine.Config()
	pool, treasury := a.engine.Balances()
	open := a.engine.OpenPositions()
	return strings.Join([]string{
		fmt.Sprintf("trading: %t", cfg.Features.AllowTrading),
		fmt.Sprintf("liquidations: %t", cfg.Features.AllowLiquidations),
		fmt.Sprintf("open_positions: %d", len(open)),
		fmt.Sprintf("pool: %d", pool),
		fmt.Sprintf("treasury: %d", treasury),
		fmt.Sprintf("grace_period_sec: %d", cfg.GracePeriodSec),
	}, "\n")
}

func (a *App) flagsStatus() string {
	cfg := a.engine.Config()
	fields := featureFlagFields(&cfg.Features)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%s: %t", name, *fields[name]))
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - engine status",
		"/pause - disable trading",
		"/resume - enable trading",
		"/flags - show feature flags",
		"/flag <name> on|off - toggle a feature flag",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	a.opsMu.Lock()
	warned := a.operatorWarned
	a.operatorWarned = true
	a.opsMu.Unlock()
	if warned || a.log == nil {
		return
	}
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) operatorRecovered() bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	if !a.operatorWarned {
		return false
	}
	a.operatorWarned = false
	return true
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	if val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
