package domain

import (
	"regexp"
	"sort"
	"strconv"
)

var (
	// modelLevelRe matches model-level fields, e.g. "S001TEMPERATURE".
	modelLevelRe = regexp.MustCompile(`^S(\d{3})(.+)$`)

	// pressureLevelRe matches pressure-level fields, e.g. "P50000TEMPERATURE".
	pressureLevelRe = regexp.MustCompile(`^P(\d{5})(.+)$`)
)

// surfacePressurePa is the value encoded as "P00000".
const surfacePressurePa = 100000

// LevelGroup is a set of per-level vendor fields that stack into one variable.
type LevelGroup struct {
	// Name is the stacked variable's original name: the base name for model
	// levels, "P_" + base name for pressure levels.
	Name string
	Dim  string

	// Levels and Members are parallel, in output order.
	Levels  []int
	Members []string
}

type levelMember struct {
	level int
	name  string
}

// DetectLevelGroups finds model- and pressure-level groups among names. Only
// groups with more than one member are returned, sorted by Name.
func DetectLevelGroups(names []string) []LevelGroup {
	model := make(map[string][]levelMember)
	pressure := make(map[string][]levelMember)

	for _, name := range names {
		if m := modelLevelRe.FindStringSubmatch(name); m != nil {
			lvl, _ := strconv.Atoi(m[1])
			model[m[2]] = append(model[m[2]], levelMember{level: lvl, name: name})
			continue
		}
		if m := pressureLevelRe.FindStringSubmatch(name); m != nil {
			pa, _ := strconv.Atoi(m[1])
			if pa == 0 {
				pa = surfacePressurePa
			}
			pressure[m[2]] = append(pressure[m[2]], levelMember{level: pa, name: name})
		}
	}

	var groups []LevelGroup
	for base, members := range model {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].level < members[j].level })
		groups = append(groups, newLevelGroup(base, DimLevel, members))
	}
	for base, members := range pressure {
		if len(members) < 2 {
			continue
		}
		// Highest pressure first: index 0 is nearest the surface.
		sort.Slice(members, func(i, j int) bool { return members[i].level > members[j].level })
		groups = append(groups, newLevelGroup("P_"+base, DimPressure, members))
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

func newLevelGroup(name, dim string, members []levelMember) LevelGroup {
	g := LevelGroup{
		Name:    name,
		Dim:     dim,
		Levels:  make([]int, len(members)),
		Members: make([]string, len(members)),
	}
	for i, m := range members {
		g.Levels[i] = m.level
		g.Members[i] = m.name
	}
	return g
}
