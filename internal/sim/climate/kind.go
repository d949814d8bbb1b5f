package climate

import (
	"fmt"
	"strings"
)

// Kind is one member of the closed set of climate-driven effects.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindFarmYield
	KindIceFormation
	KindMobSpawnRate
	KindWeather
	KindSeaLevelRise
	KindSnowFormation
)

var kindNames = [...]string{
	KindUnknown:       "UNKNOWN",
	KindFarmYield:     "FARM_YIELD",
	KindIceFormation:  "ICE_FORMATION",
	KindMobSpawnRate:  "MOB_SPAWN_RATE",
	KindWeather:       "WEATHER",
	KindSeaLevelRise:  "SEA_LEVEL_RISE",
	KindSnowFormation: "SNOW_FORMATION",
}

// Kinds lists every valid kind in catalogue order.
func Kinds() []Kind {
	return []Kind{
		KindFarmYield,
		KindIceFormation,
		KindMobSpawnRate,
		KindWeather,
		KindSeaLevelRise,
		KindSnowFormation,
	}
}

func (k Kind) Valid() bool {
	return k > KindUnknown && int(k) < len(kindNames)
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

func ParseKind(s string) (Kind, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if kindNames[k] == name {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown effect kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid effect kind %d", k)
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
