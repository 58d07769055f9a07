package scenario

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/Shopify/go-lua"
)

const scenarioTypeName = "scenario"

// Scenario is a named, ordered list of steps built by a Lua script.
type Scenario struct {
	Name  string
	Steps []Step
}

// Step is one scripted game command or expectation.
type Step struct {
	Kind string
	Args map[string]any
}

// LoadScenarioFromFile runs a Lua script that must return a Scenario.
func LoadScenarioFromFile(path string) (*Scenario, error) {
	state := newLuaState()
	if err := lua.LoadFile(state, path, ""); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	scenario, err := runChunk(state)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(scenario.Name) == "" {
		scenario.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return scenario, nil
}

// LoadScenario runs Lua source that must return a Scenario.
func LoadScenario(name, source string) (*Scenario, error) {
	state := newLuaState()
	if err := lua.LoadString(state, source); err != nil {
		return nil, fmt.Errorf("load lua: %w", err)
	}
	scenario, err := runChunk(state)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(scenario.Name) == "" {
		scenario.Name = name
	}
	return scenario, nil
}

func newLuaState() *lua.State {
	state := lua.NewState()
	lua.OpenLibraries(state)
	registerScenarioType(state)
	registerScenarioConstructor(state)
	return state
}

func runChunk(state *lua.State) (*Scenario, error) {
	if err := state.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua: %w", err)
	}
	if state.TypeOf(-1) != lua.TypeUserData {
		state.Pop(1)
		return nil, fmt.Errorf("scenario script must return Scenario")
	}
	ud := state.ToUserData(-1)
	state.Pop(1)
	scenario, ok := ud.(*Scenario)
	if !ok || scenario == nil {
		return nil, fmt.Errorf("scenario script returned invalid Scenario")
	}
	return scenario, nil
}

func registerScenarioType(state *lua.State) {
	lua.NewMetaTable(state, scenarioTypeName)
	state.NewTable()
	lua.SetFunctions(state, scenarioMethods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)
}

func registerScenarioConstructor(state *lua.State) {
	state.NewTable()
	lua.SetFunctions(state, scenarioConstructor, 0)
	state.SetGlobal("Scenario")
}

var scenarioConstructor = []lua.RegistryFunction{
	{Name: "new", Function: scenarioNew},
}

func scenarioNew(state *lua.State) int {
	name := lua.OptString(state, 1, "")
	scenario := &Scenario{Name: name}
	state.PushUserData(scenario)
	lua.SetMetaTableNamed(state, scenarioTypeName)
	return 1
}

// Every method returns the scenario so calls can be chained.
var scenarioMethods = []lua.RegistryFunction{
	{Name: "players", Function: scenarioPlayers},
	{Name: "action", Function: scenarioAction},
	{Name: "complete_actions", Function: optionsOnly("complete_actions")},
	{Name: "roll", Function: scenarioRoll("roll")},
	{Name: "reroll", Function: scenarioRoll("reroll")},
	{Name: "play_card", Function: scenarioPlayCard},
	{Name: "choose", Function: scenarioChoose},
	{Name: "destination", Function: scenarioDestination},
	{Name: "end_turn", Function: optionsOnly("end_turn")},
	{Name: "try_again", Function: optionsOnly("try_again")},
	{Name: "negotiate", Function: scenarioNegotiate},
	{Name: "offer", Function: optionsOnly("offer")},
	{Name: "accept", Function: optionsOnly("accept")},
	{Name: "cancel", Function: optionsOnly("cancel")},
	{Name: "expect", Function: scenarioExpect},
}

func scenarioPlayers(state *lua.State) int {
	scenario := checkScenario(state)
	lua.CheckType(state, 2, lua.TypeTable)
	names, _ := tableToGo(state, 2).([]any)
	if len(names) == 0 {
		lua.ArgumentError(state, 2, "at least one player name expected")
	}
	data := optionalTable(state, 3)
	data["names"] = names
	appendStep(scenario, "players", data)
	return chain(state)
}

func scenarioAction(state *lua.State) int {
	scenario := checkScenario(state)
	key := lua.CheckString(state, 2)
	data := optionalTable(state, 3)
	data["key"] = key
	appendStep(scenario, "action", data)
	return chain(state)
}

func scenarioRoll(kind string) lua.Function {
	return func(state *lua.State) int {
		scenario := checkScenario(state)
		data := map[string]any{}
		switch state.TypeOf(2) {
		case lua.TypeNumber:
			data = optionalTable(state, 3)
			data["value"] = lua.CheckInteger(state, 2)
		case lua.TypeTable:
			data = tableToMap(state, 2)
		}
		appendStep(scenario, kind, data)
		return chain(state)
	}
}

func scenarioPlayCard(state *lua.State) int {
	scenario := checkScenario(state)
	card := lua.CheckString(state, 2)
	data := optionalTable(state, 3)
	data["card"] = card
	appendStep(scenario, "play_card", data)
	return chain(state)
}

func scenarioChoose(state *lua.State) int {
	scenario := checkScenario(state)
	option := lua.CheckString(state, 2)
	appendStep(scenario, "choose", map[string]any{"option": option})
	return chain(state)
}

func scenarioDestination(state *lua.State) int {
	scenario := checkScenario(state)
	space := lua.CheckString(state, 2)
	data := optionalTable(state, 3)
	data["space"] = space
	appendStep(scenario, "destination", data)
	return chain(state)
}

func scenarioNegotiate(state *lua.State) int {
	scenario := checkScenario(state)
	lua.CheckType(state, 2, lua.TypeTable)
	names, _ := tableToGo(state, 2).([]any)
	if len(names) == 0 {
		lua.ArgumentError(state, 2, "at least one other player expected")
	}
	data := optionalTable(state, 3)
	data["with"] = names
	appendStep(scenario, "negotiate", data)
	return chain(state)
}

func scenarioExpect(state *lua.State) int {
	scenario := checkScenario(state)
	lua.CheckType(state, 2, lua.TypeTable)
	appendStep(scenario, "expect", tableToMap(state, 2))
	return chain(state)
}

func optionsOnly(kind string) lua.Function {
	return func(state *lua.State) int {
		scenario := checkScenario(state)
		appendStep(scenario, kind, optionalTable(state, 2))
		return chain(state)
	}
}

func chain(state *lua.State) int {
	state.PushValue(1)
	return 1
}

func checkScenario(state *lua.State) *Scenario {
	ud := lua.CheckUserData(state, 1, scenarioTypeName)
	if scenario, ok := ud.(*Scenario); ok && scenario != nil {
		return scenario
	}
	lua.ArgumentError(state, 1, "scenario expected")
	return nil
}

func appendStep(scenario *Scenario, kind string, data map[string]any) int {
	if scenario == nil {
		return -1
	}
	if data == nil {
		data = map[string]any{}
	}
	scenario.Steps = append(scenario.Steps, Step{Kind: kind, Args: data})
	return len(scenario.Steps) - 1
}

func optionalTable(state *lua.State, index int) map[string]any {
	if state.IsNoneOrNil(index) || state.TypeOf(index) != lua.TypeTable {
		return map[string]any{}
	}
	return tableToMap(state, index)
}

func tableToMap(state *lua.State, index int) map[string]any {
	output := map[string]any{}
	if state.TypeOf(index) != lua.TypeTable {
		return output
	}

	index = state.AbsIndex(index)
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		return normalizeNumber(value)
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	default:
		return nil
	}
}

func tableToGo(state *lua.State, index int) any {
	if state.TypeOf(index) != lua.TypeTable {
		return nil
	}

	index = state.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0
	state.PushNil()
	for state.Next(index) {
		if isArray {
			if state.TypeOf(-2) != lua.TypeNumber {
				isArray = false
			} else if idx, ok := state.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			result = append(result, luaToGo(state, -1))
			state.Pop(1)
		}
		return result
	}

	return tableToMap(state, index)
}

func normalizeNumber(value float64) any {
	if math.Mod(value, 1) == 0 {
		return int(value)
	}
	return value
}
