package ptv

// Mode describes one public transport mode in the PTV GTFS bundle. The
// dataset IDs come from the DTP GTFS release notes.
type Mode struct {
	Name    string
	ID      int
	Display string
	Defunct bool
}

var Modes = []Mode{
	{Name: "RegionalTrain", ID: 1, Display: "Regional train"},
	{Name: "MetroTrain", ID: 2, Display: "Metropolitan train"},
	{Name: "MetroTram", ID: 3, Display: "Metropolitan tram"},
	{Name: "MetroBus", ID: 4, Display: "Metropolitan bus"},
	{Name: "RegionalCoach", ID: 5, Display: "Regional coach"},
	{Name: "RegionalBus", ID: 6, Display: "Regional bus"},
	{Name: "TeleBus", ID: 7, Display: "TeleBus", Defunct: true},
	{Name: "NightBus", ID: 8, Display: "Night bus", Defunct: true},
	{Name: "Interstate", ID: 10, Display: "Interstate bus"},
	{Name: "SkyBus", ID: 11, Display: "SkyBus"},
}

// ModeByName looks up an active mode by its dataset name.
func ModeByName(name string) (Mode, bool) {
	for _, m := range Modes {
		if m.Name == name && !m.Defunct {
			return m, true
		}
	}
	return Mode{}, false
}

// ModeNames returns the names of all selectable (non-defunct) modes in
// bundle order.
func ModeNames() []string {
	names := make([]string, 0, len(Modes))
	for _, m := range Modes {
		if m.Defunct {
			continue
		}
		names = append(names, m.Name)
	}
	return names
}
