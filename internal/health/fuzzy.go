package health

// Mode is the projection mode used when milestones are generated.
type Mode string

const (
	Conservative Mode = "conservative"
	Normal       Mode = "normal"
	Enthusiastic Mode = "enthusiastic"
)

// NeutralScore is returned when no rule applies to the inputs.
const NeutralScore = 50.0

type set struct{ a, b, c float64 }

var (
	low    = set{0, 0, 50}
	medium = set{30, 50, 70}
	high   = set{50, 100, 100}
)

func (s set) member(x float64) float64 {
	switch {
	case x < s.a || x > s.c:
		return 0
	case x == s.b:
		return 1
	case x < s.b:
		return (x - s.a) / (s.b - s.a)
	default:
		return (s.c - x) / (s.c - s.b)
	}
}

type input int

const (
	motivation input = iota
	problemSolving
	progress
)

type term struct {
	in  input
	set set
}

type rule struct {
	when []term
	then set
}

var rules = []rule{
	{[]term{{motivation, low}}, low},
	{[]term{{motivation, medium}, {problemSolving, low}}, low},
	{[]term{{motivation, medium}, {problemSolving, medium}}, medium},
	{[]term{{motivation, high}, {problemSolving, low}}, low},
	{[]term{{motivation, high}, {problemSolving, medium}}, medium},
	{[]term{{motivation, high}, {problemSolving, high}}, high},
	{[]term{{progress, low}, {motivation, medium}}, low},
	{[]term{{progress, low}, {motivation, high}}, low},
	{[]term{{progress, medium}, {motivation, high}}, medium},
	{[]term{{progress, high}, {motivation, high}}, high},
	{[]term{{motivation, low}, {problemSolving, high}}, low},
	{[]term{{progress, high}, {problemSolving, low}}, medium},
	{[]term{{progress, medium}, {problemSolving, high}}, high},
	{[]term{{progress, low}, {problemSolving, low}}, low},
	{[]term{{progress, low}, {problemSolving, high}}, medium},
	{[]term{{motivation, medium}, {problemSolving, medium}, {progress, medium}}, medium},
	{[]term{{motivation, low}, {problemSolving, low}, {progress, low}}, low},
	{[]term{{motivation, high}, {problemSolving, high}, {progress, high}}, high},
}

// Classifier is a Mamdani fuzzy system over team motivation, problem
// solving capacity and progress, each on 0..100. It holds no state.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Score returns the defuzzified projection score and whether any rule fired.
func (c *Classifier) Score(mot, ps, prog float64) (float64, bool) {
	values := [3]float64{clamp(mot), clamp(ps), clamp(prog)}
	strength := make([]float64, len(rules))
	fired := false
	for i, r := range rules {
		s := 1.0
		for _, t := range r.when {
			s = min(s, t.set.member(values[t.in]))
		}
		strength[i] = s
		if s > 0 {
			fired = true
		}
	}
	if !fired {
		return NeutralScore, false
	}

	var num, den float64
	for x := 0.0; x <= 100; x++ {
		mu := 0.0
		for i, r := range rules {
			if strength[i] == 0 {
				continue
			}
			mu = max(mu, min(strength[i], r.then.member(x)))
		}
		num += x * mu
		den += mu
	}
	if den == 0 {
		return NeutralScore, false
	}
	return num / den, true
}

// Classify buckets the score into a mode. reward is accepted so callers can
// pass the full health signal; the rule base does not use it.
func (c *Classifier) Classify(mot, ps, prog, reward float64) Mode {
	_ = reward
	score, _ := c.Score(mot, ps, prog)
	return ModeFor(score)
}

func ModeFor(score float64) Mode {
	switch {
	case score < 40:
		return Conservative
	case score <= 70:
		return Normal
	default:
		return Enthusiastic
	}
}

func clamp(v float64) float64 {
	return max(0, min(100, v))
}
