package feature

type FeatureType int

const (
	FeatureTypeLag FeatureType = iota
	FeatureTypeRolling
	FeatureTypeCalendar
	FeatureTypeHoliday
	FeatureTypeExternal
	FeatureTypeSeasonality
	FeatureTypeTrend
)

func (f FeatureType) String() string {
	switch f {
	case FeatureTypeLag:
		return "lag"
	case FeatureTypeRolling:
		return "rolling"
	case FeatureTypeCalendar:
		return "calendar"
	case FeatureTypeHoliday:
		return "holiday"
	case FeatureTypeExternal:
		return "external"
	case FeatureTypeSeasonality:
		return "seasonality"
	case FeatureTypeTrend:
		return "trend"
	}
	return "unknown"
}

// Feature is a labelled column of a feature matrix
type Feature interface {
	String() string
	Get(string) (string, bool)
	Type() FeatureType
	Decode() map[string]string
}
