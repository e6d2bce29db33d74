package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"
	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	compliancedomain "github.com/smallbiznis/pitboss/internal/compliance/domain"
	"github.com/smallbiznis/pitboss/internal/gamingday"
	thresholddomain "github.com/smallbiznis/pitboss/internal/threshold/domain"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CasinoSettings is the file representation of one organization's settings.
// Empty fields of an org override inherit the default settings.
type CasinoSettings struct {
	Timezone        string            `mapstructure:"timezone"`
	GamingDayStart  string            `mapstructure:"gamingDayStart"`
	Currency        string            `mapstructure:"currency"`
	TrackedChannels []string          `mapstructure:"trackedChannels"`
	Threshold       ThresholdSettings `mapstructure:"threshold"`
}

type ThresholdSettings struct {
	CrossedAmount       int64  `mapstructure:"crossedAmount"`
	ApproachingFraction string `mapstructure:"approachingFraction"`
}

type CasinoConfig struct {
	Default CasinoSettings            `mapstructure:"default"`
	Orgs    map[string]CasinoSettings `mapstructure:"orgs"`
}

// TenantSettings are the resolved settings passed into the engine at call time.
type TenantSettings struct {
	Cutoff          gamingday.Cutoff
	Currency        string
	TrackedChannels map[compliancedomain.Channel]bool
	Threshold       thresholddomain.Config
}

// Tracks reports whether derivation is enabled for a channel.
func (s TenantSettings) Tracks(channel compliancedomain.Channel) bool {
	return s.TrackedChannels[channel]
}

// TenantSettingsProvider resolves settings for an organization.
type TenantSettingsProvider interface {
	TenantSettings(orgID snowflake.ID) (TenantSettings, error)
}

var ErrInvalidCasinoConfig = errors.New("invalid_casino_config")

func DefaultCasinoSettings() CasinoSettings {
	return CasinoSettings{
		Timezone:       "America/Los_Angeles",
		GamingDayStart: "06:00",
		Currency:       "USD",
		TrackedChannels: []string{
			string(compliancedomain.ChannelBuyIn),
			string(compliancedomain.ChannelMarkerIssue),
			string(compliancedomain.ChannelFrontMoneyDeposit),
			string(compliancedomain.ChannelCashOut),
			string(compliancedomain.ChannelChipRedemption),
			string(compliancedomain.ChannelFrontMoneyWithdrawal),
		},
		Threshold: ThresholdSettings{
			CrossedAmount:       10_000_00,
			ApproachingFraction: "0.9",
		},
	}
}

type resolvedCasinoConfig struct {
	fallback TenantSettings
	orgs     map[snowflake.ID]TenantSettings
}

type CasinoConfigHolder struct {
	current atomic.Value // holds resolvedCasinoConfig
}

func NewCasinoConfigHolder(cfg Config) (*CasinoConfigHolder, error) {
	v := viper.New()

	if cfg.CasinoConfigPath != "" {
		v.SetConfigFile(cfg.CasinoConfigPath)
	} else {
		v.SetConfigName("casino")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/pitboss")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PITBOSS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCasinoSettings()
	v.SetDefault("casino.default.timezone", defaults.Timezone)
	v.SetDefault("casino.default.gamingDayStart", defaults.GamingDayStart)
	v.SetDefault("casino.default.currency", defaults.Currency)
	v.SetDefault("casino.default.trackedChannels", defaults.TrackedChannels)
	v.SetDefault("casino.default.threshold.crossedAmount", defaults.Threshold.CrossedAmount)
	v.SetDefault("casino.default.threshold.approachingFraction", defaults.Threshold.ApproachingFraction)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	resolved, err := loadCasinoConfig(v)
	if err != nil {
		return nil, err
	}

	holder := &CasinoConfigHolder{}
	holder.current.Store(resolved)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := loadCasinoConfig(v)
			if err != nil {
				zap.L().Named("casino.config").Warn("invalid casino config ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			zap.L().Named("casino.config").Info("casino config reloaded", zap.String("file", e.Name), zap.Int("org_overrides", len(updated.orgs)))
		})
	}

	return holder, nil
}

// NewStaticCasinoConfigHolder builds a holder that never reloads.
func NewStaticCasinoConfigHolder(raw CasinoConfig) (*CasinoConfigHolder, error) {
	resolved, err := resolveCasinoConfig(raw)
	if err != nil {
		return nil, err
	}
	holder := &CasinoConfigHolder{}
	holder.current.Store(resolved)
	return holder, nil
}

func ProvideTenantSettings(h *CasinoConfigHolder) TenantSettingsProvider {
	return h
}

// TenantSettings returns the org's settings, falling back to the defaults.
func (h *CasinoConfigHolder) TenantSettings(orgID snowflake.ID) (TenantSettings, error) {
	resolved, ok := h.current.Load().(resolvedCasinoConfig)
	if !ok {
		return TenantSettings{}, ErrInvalidCasinoConfig
	}
	if settings, ok := resolved.orgs[orgID]; ok {
		return settings, nil
	}
	return resolved.fallback, nil
}

func loadCasinoConfig(v *viper.Viper) (resolvedCasinoConfig, error) {
	var raw CasinoConfig
	if err := v.UnmarshalKey("casino", &raw); err != nil {
		return resolvedCasinoConfig{}, err
	}
	return resolveCasinoConfig(raw)
}

// resolveCasinoConfig validates the file form and resolves each org.
func resolveCasinoConfig(raw CasinoConfig) (resolvedCasinoConfig, error) {
	fallback, err := resolveSettings(mergeSettings(DefaultCasinoSettings(), raw.Default))
	if err != nil {
		return resolvedCasinoConfig{}, fmt.Errorf("casino.default: %w", err)
	}

	orgs := make(map[snowflake.ID]TenantSettings, len(raw.Orgs))
	for key, override := range raw.Orgs {
		orgID, err := snowflake.ParseString(strings.TrimSpace(key))
		if err != nil || orgID == 0 {
			return resolvedCasinoConfig{}, fmt.Errorf("%w: org key %q", ErrInvalidCasinoConfig, key)
		}
		settings, err := resolveSettings(mergeSettings(mergeSettings(DefaultCasinoSettings(), raw.Default), override))
		if err != nil {
			return resolvedCasinoConfig{}, fmt.Errorf("casino.orgs.%s: %w", key, err)
		}
		orgs[orgID] = settings
	}

	return resolvedCasinoConfig{fallback: fallback, orgs: orgs}, nil
}

func mergeSettings(base, override CasinoSettings) CasinoSettings {
	if strings.TrimSpace(override.Timezone) != "" {
		base.Timezone = override.Timezone
	}
	if strings.TrimSpace(override.GamingDayStart) != "" {
		base.GamingDayStart = override.GamingDayStart
	}
	if strings.TrimSpace(override.Currency) != "" {
		base.Currency = override.Currency
	}
	if len(override.TrackedChannels) > 0 {
		base.TrackedChannels = override.TrackedChannels
	}
	if override.Threshold.CrossedAmount != 0 {
		base.Threshold.CrossedAmount = override.Threshold.CrossedAmount
	}
	if strings.TrimSpace(override.Threshold.ApproachingFraction) != "" {
		base.Threshold.ApproachingFraction = override.Threshold.ApproachingFraction
	}
	return base
}

func resolveSettings(raw CasinoSettings) (TenantSettings, error) {
	cutoff, err := gamingday.NewCutoff(raw.GamingDayStart, raw.Timezone)
	if err != nil {
		return TenantSettings{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if currency == "" {
		return TenantSettings{}, fmt.Errorf("%w: currency is required", ErrInvalidCasinoConfig)
	}

	tracked := make(map[compliancedomain.Channel]bool, len(raw.TrackedChannels))
	for _, name := range raw.TrackedChannels {
		channel := compliancedomain.Channel(strings.ToLower(strings.TrimSpace(name)))
		if _, ok := compliancedomain.DirectionForChannel(channel); !ok {
			return TenantSettings{}, fmt.Errorf("%w: unknown tracked channel %q", ErrInvalidCasinoConfig, name)
		}
		tracked[channel] = true
	}

	fraction, err := decimal.NewFromString(strings.TrimSpace(raw.Threshold.ApproachingFraction))
	if err != nil {
		return TenantSettings{}, fmt.Errorf("%w: approachingFraction %q", ErrInvalidCasinoConfig, raw.Threshold.ApproachingFraction)
	}
	threshold := thresholddomain.Config{
		CrossedAmount:       raw.Threshold.CrossedAmount,
		ApproachingFraction: fraction,
	}
	if err := threshold.Validate(); err != nil {
		return TenantSettings{}, err
	}

	return TenantSettings{
		Cutoff:          cutoff,
		Currency:        currency,
		TrackedChannels: tracked,
		Threshold:       threshold,
	}, nil
}
