package strain

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"plantcare-engine/internal/logging"
	"plantcare-engine/pkg/types"
)

// DefaultFloweringWeeks is used when a record carries no flowering time
const DefaultFloweringWeeks = 8

type catalogShape struct {
	ID            string      `mapstructure:"id"`
	Name          string      `mapstructure:"name"`
	ThcContent    interface{} `mapstructure:"thcContent"`
	CbdContent    interface{} `mapstructure:"cbdContent"`
	Type          string      `mapstructure:"type"`
	FloweringTime interface{} `mapstructure:"floweringTime"`
	Difficulty    string      `mapstructure:"difficulty"`
}

type userShape struct {
	ID             string      `mapstructure:"id"`
	Name           string      `mapstructure:"name"`
	ThcPercentage  interface{} `mapstructure:"thcPercentage"`
	HeightIndoor   string      `mapstructure:"heightIndoor"`
	StrainType     string      `mapstructure:"strainType"`
	FloweringWeeks *int        `mapstructure:"floweringWeeks"`
	GrowDifficulty string      `mapstructure:"growDifficulty"`
}

var userShapeKeys = []string{"strainType", "thcPercentage", "heightIndoor", "floweringWeeks"}

// Resolver turns a plant's strain reference into StrainCharacteristics. It never fails.
type Resolver struct {
	directory Directory
	logger    logging.Logger
}

// NewResolver creates a resolver over a directory
func NewResolver(directory Directory, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Resolver{directory: directory, logger: logger.WithComponent("strain_resolver")}
}

// Resolve looks up the plant's strain. Missing ids, missing records and lookup
// errors all degrade to an unknown, low-confidence record; the plant's
// cannabis type is used as a type hint.
func (r *Resolver) Resolve(ctx context.Context, plant *types.Plant) types.StrainCharacteristics {
	hint := typeHint(plant)

	if plant == nil || plant.StrainID == nil || *plant.StrainID == "" {
		return degraded("", hint)
	}
	strainID := *plant.StrainID

	if r.directory == nil {
		r.logger.WarnContext(ctx, "no strain directory configured", "strain_id", strainID)
		return degraded(strainID, hint)
	}

	record, ok, err := r.directory.Lookup(ctx, strainID)
	if err != nil {
		r.logger.WarnContext(ctx, "strain lookup failed, using defaults", "strain_id", strainID, "error", err)
		return degraded(strainID, hint)
	}
	if !ok {
		r.logger.DebugContext(ctx, "strain not found, using defaults", "strain_id", strainID)
		return degraded(strainID, hint)
	}

	chars, err := Normalize(strainID, record)
	if err != nil {
		r.logger.WarnContext(ctx, "strain record could not be normalized", "strain_id", strainID, "error", err)
		return degraded(strainID, hint)
	}
	if chars.Type == types.StrainUnknown && hint != types.StrainUnknown {
		chars.Type = hint
	}
	if chars.Type == types.StrainUnknown {
		chars.Confidence = types.ConfidenceLow
	}
	return chars
}

// Normalize converts either record shape into characteristics
func Normalize(strainID string, record Record) (types.StrainCharacteristics, error) {
	if isUserShape(record) {
		return normalizeUser(strainID, record)
	}
	return normalizeCatalog(strainID, record)
}

func isUserShape(record Record) bool {
	for _, k := range userShapeKeys {
		if _, ok := record[k]; ok {
			return true
		}
	}
	return false
}

func decode(record Record, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(map[string]interface{}(record))
}

func normalizeCatalog(strainID string, record Record) (types.StrainCharacteristics, error) {
	var c catalogShape
	if err := decode(record, &c); err != nil {
		return types.StrainCharacteristics{}, err
	}

	strainType := types.ParseStrainType(c.Type)
	if strainType == types.StrainUnknown {
		thc, thcOK := parseNumber(c.ThcContent)
		cbd, cbdOK := parseNumber(c.CbdContent)
		if thcOK && cbdOK && cbd > thc {
			strainType = types.StrainCBD
		}
	}

	weeks := parseFloweringTime(c.FloweringTime)
	return types.StrainCharacteristics{
		StrainID:       firstNonEmpty(c.ID, strainID),
		Name:           firstNonEmpty(c.Name, strainID),
		Type:           strainType,
		FloweringWeeks: &weeks,
		GrowDifficulty: optional(c.Difficulty),
		Confidence:     types.ConfidenceHigh,
	}, nil
}

func normalizeUser(strainID string, record Record) (types.StrainCharacteristics, error) {
	var u userShape
	if err := decode(record, &u); err != nil {
		return types.StrainCharacteristics{}, err
	}

	weeks := DefaultFloweringWeeks
	if u.FloweringWeeks != nil && *u.FloweringWeeks > 0 {
		weeks = *u.FloweringWeeks
	}
	return types.StrainCharacteristics{
		StrainID:       firstNonEmpty(u.ID, strainID),
		Name:           firstNonEmpty(u.Name, strainID),
		Type:           types.ParseStrainType(u.StrainType),
		FloweringWeeks: &weeks,
		GrowDifficulty: optional(u.GrowDifficulty),
		Confidence:     types.ConfidenceHigh,
	}, nil
}

var numberPattern = regexp.MustCompile(`\d+(\.\d+)?`)

// parseFloweringTime accepts a number of weeks, "8-9 weeks" or "56-63 days"; the lower bound wins
func parseFloweringTime(v interface{}) int {
	switch t := v.(type) {
	case int:
		if t > 0 {
			return t
		}
	case int64:
		if t > 0 {
			return int(t)
		}
	case float64:
		if t > 0 {
			return int(math.Round(t))
		}
	case string:
		match := numberPattern.FindString(t)
		if match == "" {
			break
		}
		n, err := strconv.ParseFloat(match, 64)
		if err != nil || n <= 0 {
			break
		}
		if strings.Contains(strings.ToLower(t), "day") {
			n /= 7
		}
		if weeks := int(math.Round(n)); weeks > 0 {
			return weeks
		}
	}
	return DefaultFloweringWeeks
}

// parseNumber reads 18, 18.5, "18%" or "18-24%" (lower bound)
func parseNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		match := numberPattern.FindString(t)
		if match == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(match, 64)
		return n, err == nil
	}
	return 0, false
}

func degraded(strainID string, hint types.StrainType) types.StrainCharacteristics {
	chars := types.UnknownStrain(strainID)
	chars.Type = hint
	return chars
}

func typeHint(plant *types.Plant) types.StrainType {
	if plant == nil || plant.CannabisType == nil {
		return types.StrainUnknown
	}
	return types.ParseStrainType(*plant.CannabisType)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
