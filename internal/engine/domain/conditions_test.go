package engine

import "testing"

func TestEvaluateConditionsSoapThreshold(t *testing.T) {
	cfg := DefaultConfig()
	conds := EvaluateConditions(Reading{Soap: `{"sabun1":{"distance":4},"sabun2":{"distance":10.5}}`}, cfg)
	if !conds.SoapEmpty {
		t.Fatalf("expected soap empty when one slot exceeds the threshold")
	}
	conds = EvaluateConditions(Reading{Soap: `{"sabun1":{"distance":10},"sabun2":3}`}, cfg)
	if conds.SoapEmpty {
		t.Fatalf("expected soap not empty at the threshold")
	}
}

func TestEvaluateConditionsIgnoresDisabledSlots(t *testing.T) {
	cfg, err := DefaultConfig().Apply(ConfigPatch{SoapSensors: &[]string{"sabun1"}, TissueSlots: &[]string{"tisu2"}})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	conds := EvaluateConditions(Reading{
		Soap:   `{"sabun1":{"distance":2},"sabun3":{"distance":25}}`,
		Tissue: `{"tisu1":"Habis","tisu2":"Ada"}`,
	}, cfg)
	if conds.SoapEmpty || conds.TissueEmpty {
		t.Fatalf("disabled slots must not trigger, got %+v", conds)
	}
}

func TestEvaluateConditionsTissue(t *testing.T) {
	conds := EvaluateConditions(Reading{Tissue: `{"tisu1":"Ada","tisu2":" habis "}`}, DefaultConfig())
	if !conds.TissueEmpty {
		t.Fatalf("expected tissue empty")
	}
}

func TestEvaluateConditionsMalformedIsUnknown(t *testing.T) {
	conds := EvaluateConditions(Reading{Soap: `not json`, Tissue: `[1,2]`, Amonia: `{`}, DefaultConfig())
	if conds.SoapEmpty || conds.TissueEmpty {
		t.Fatalf("malformed payloads must not raise conditions")
	}
	if len(conds.Malformed) != 2 {
		t.Fatalf("expected 2 malformed sensors, got %v", conds.Malformed)
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize("toilet-lantai-2", Reading{
		Amonia: `{"ppm":1.2}`,
		Water:  `{"detected":true}`,
		Soap:   `{"sabun1":{"distance":12},"sabun2":{"distance":3}}`,
		Tissue: `{"tisu1":"Habis","tisu2":"Ada"}`,
	}, DefaultConfig())
	if summary.Odor != OdorNormal {
		t.Fatalf("expected normal odor, got %s", summary.Odor)
	}
	if summary.Water != WaterPuddle {
		t.Fatalf("expected puddle, got %s", summary.Water)
	}
	if got := summary.SoapLabel(); got != "Habis (sabun1)" {
		t.Fatalf("unexpected soap label %q", got)
	}
	if got := summary.Soap[2].Status; got != SlotUnknown {
		t.Fatalf("expected missing slot unknown, got %q", got)
	}
	if got := summary.TissueLabel(); got != "Habis (tisu1)" {
		t.Fatalf("unexpected tissue label %q", got)
	}
}
