package keywords

// DefaultSpec returns the built-in keyword tables. These are the tables the
// engine runs with when no external rules file is configured, and the
// baseline operators start from when tuning weights.
//
// All patterns are matched against lower-cased text.
func DefaultSpec() *CorpusSpec {
	return &CorpusSpec{
		Version: "2024.1",
		Thresholds: ThresholdSpec{
			Critical: 70,
			High:     35,
			Mild:     15,
		},
		Critical: []RuleSpec{
			// Cardiac
			{Pattern: `heart attack`, Weight: 100, Category: "cardiac"},
			{Pattern: `chest (pain|pressure|tightness)`, Weight: 80, Category: "cardiac"},
			{Pattern: `crushing (pain|feeling) in my chest`, Weight: 85, Category: "cardiac"},
			{Pattern: `heart is (racing|pounding) and`, Weight: 70, Category: "cardiac"},

			// Breathing
			{Pattern: `can'?t breathe`, Weight: 90, Category: "breathing"},
			{Pattern: `cannot breathe`, Weight: 90, Category: "breathing"},
			{Pattern: `struggling to breathe`, Weight: 80, Category: "breathing"},
			{Pattern: `gasping for (air|breath)`, Weight: 80, Category: "breathing"},
			{Pattern: `\bchoking\b`, Weight: 85, Category: "breathing"},

			// Stroke
			{Pattern: `\bstroke\b`, Weight: 90, Category: "stroke"},
			{Pattern: `face (is )?droop`, Weight: 85, Category: "stroke"},
			{Pattern: `can'?t move my (arm|leg|face|side)`, Weight: 80, Category: "stroke"},
			{Pattern: `can'?t (speak|talk) properly`, Weight: 75, Category: "stroke"},
			{Pattern: `vision (suddenly )?went (dark|blurry)`, Weight: 75, Category: "stroke"},

			// Loss of consciousness
			{Pattern: `\bunconscious\b`, Weight: 90, Category: "unresponsive"},
			{Pattern: `passed out`, Weight: 85, Category: "unresponsive"},
			{Pattern: `\bunresponsive\b`, Weight: 85, Category: "unresponsive"},
			{Pattern: `blacking out`, Weight: 80, Category: "unresponsive"},

			// Self-harm
			{Pattern: `kill myself`, Weight: 100, Category: "self-harm"},
			{Pattern: `\bsuicide\b`, Weight: 95, Category: "self-harm"},
			{Pattern: `end (my|it) all`, Weight: 95, Category: "self-harm"},
			{Pattern: `end my life`, Weight: 95, Category: "self-harm"},
			{Pattern: `don'?t want to (live|be here)( anymore)?`, Weight: 90, Category: "self-harm"},
			{Pattern: `\boverdose\b`, Weight: 90, Category: "self-harm"},
			{Pattern: `hurt(ing)? myself on purpose`, Weight: 85, Category: "self-harm"},

			// Severe bleeding
			{Pattern: `bleeding (badly|heavily|a lot)`, Weight: 85, Category: "bleeding"},
			{Pattern: `blood everywhere`, Weight: 90, Category: "bleeding"},
			{Pattern: `won'?t stop bleeding`, Weight: 85, Category: "bleeding"},

			// Severe allergic reaction
			{Pattern: `throat (is )?(closing|swelling)`, Weight: 90, Category: "allergic-reaction"},
			{Pattern: `allergic reaction`, Weight: 75, Category: "allergic-reaction"},
		},
		High: []RuleSpec{
			// Falls
			{Pattern: `\bfell\b`, Weight: 30, Category: "fall"},
			{Pattern: `fall(en)? (down|over)`, Weight: 40, Category: "fall"},
			{Pattern: `can'?t get up`, Weight: 25, Category: "fall"},
			{Pattern: `(lying|stuck) on the (floor|ground)`, Weight: 40, Category: "fall"},
			{Pattern: `slipped in the (bathroom|shower|kitchen)`, Weight: 40, Category: "fall"},

			// Pain
			{Pattern: `severe pain`, Weight: 50, Category: "pain"},
			{Pattern: `terrible pain`, Weight: 45, Category: "pain"},
			{Pattern: `(in )?so much pain`, Weight: 45, Category: "pain"},
			{Pattern: `worst (pain|headache) (of my life|ever)`, Weight: 55, Category: "pain"},
			{Pattern: `pain (is )?(unbearable|getting worse)`, Weight: 50, Category: "pain"},

			// Injury
			{Pattern: `(broke|broken) my (hip|arm|leg|wrist|ankle)`, Weight: 50, Category: "injury"},
			{Pattern: `hit my head`, Weight: 45, Category: "injury"},
			{Pattern: `hurt myself`, Weight: 40, Category: "injury"},
			{Pattern: `badly (hurt|injured)`, Weight: 45, Category: "injury"},

			// Faintness
			{Pattern: `\bdizzy\b`, Weight: 35, Category: "dizziness"},
			{Pattern: `feel(ing)? faint`, Weight: 40, Category: "dizziness"},
			{Pattern: `about to pass out`, Weight: 55, Category: "dizziness"},
			{Pattern: `room is spinning`, Weight: 40, Category: "dizziness"},

			// Medication problems
			{Pattern: `took too (many|much)`, Weight: 50, Category: "medication"},
			{Pattern: `wrong (pills|medication|medicine)`, Weight: 45, Category: "medication"},
			{Pattern: `double(d)? (my )?dose`, Weight: 45, Category: "medication"},

			// Weakness / numbness
			{Pattern: `too weak to (stand|walk|move|get)`, Weight: 45, Category: "weakness"},
			{Pattern: `\bnumb\b`, Weight: 35, Category: "weakness"},
			{Pattern: `legs? (gave out|buckled)`, Weight: 45, Category: "weakness"},

			// Confusion
			{Pattern: `don'?t know where i am`, Weight: 50, Category: "confusion"},
			{Pattern: `very confused`, Weight: 40, Category: "confusion"},
			{Pattern: `can'?t remember (anything|my)`, Weight: 40, Category: "confusion"},
		},
		Mild: []RuleSpec{
			// Emotional distress
			{Pattern: `\blonely\b`, Weight: 15, Category: "loneliness"},
			{Pattern: `so alone`, Weight: 15, Category: "loneliness"},
			{Pattern: `nobody (cares|visits|calls)`, Weight: 20, Category: "loneliness"},
			{Pattern: `\bdepressed\b`, Weight: 20, Category: "mood"},
			{Pattern: `\bhopeless\b`, Weight: 20, Category: "mood"},
			{Pattern: `\bcrying\b`, Weight: 15, Category: "mood"},
			{Pattern: `\bmiserable\b`, Weight: 15, Category: "mood"},

			// Anxiety
			{Pattern: `\bscared\b`, Weight: 15, Category: "anxiety"},
			{Pattern: `\bfrightened\b`, Weight: 15, Category: "anxiety"},
			{Pattern: `\banxious\b`, Weight: 15, Category: "anxiety"},
			{Pattern: `panic(king|ked)?\b`, Weight: 20, Category: "anxiety"},

			// General unwellness
			{Pattern: `not feeling well`, Weight: 15, Category: "unwell"},
			{Pattern: `feel(ing)? (sick|ill|unwell|awful)`, Weight: 15, Category: "unwell"},
			{Pattern: `\bnauseous\b`, Weight: 15, Category: "unwell"},
			{Pattern: `(have|having|got) a headache`, Weight: 10, Category: "unwell"},
			{Pattern: `no appetite`, Weight: 10, Category: "unwell"},
			{Pattern: `couldn'?t sleep`, Weight: 10, Category: "unwell"},
			{Pattern: `tired all the time`, Weight: 10, Category: "unwell"},
		},
		Boosters: []BoosterSpec{
			{Pattern: `getting worse`, Boost: 15},
			{Pattern: `\bworse\b`, Boost: 10},
			{Pattern: `\bhelp\b`, Boost: 10},
			{Pattern: `\bemergency\b`, Boost: 15},
			{Pattern: `\bpain\b`, Boost: 10},
			{Pattern: `\bhurts?\b`, Boost: 10},
			{Pattern: `\bfell\b|\bfall\b`, Boost: 10},
			{Pattern: `\bscared\b`, Boost: 5},
			{Pattern: `can'?t`, Boost: 5},
			{Pattern: `\bstill\b`, Boost: 5},
		},
	}
}

// DefaultCorpus compiles the built-in tables. The defaults are exercised by
// tests at build time, so a compile failure here is a programming error.
func DefaultCorpus() *Corpus {
	corpus, err := Compile(DefaultSpec())
	if err != nil {
		panic(err)
	}
	return corpus
}
