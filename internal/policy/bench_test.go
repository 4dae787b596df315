package policy

import "testing"

func BenchmarkEvaluate_EarlyMatch(b *testing.B) {
	cfg, _ := Parse([]byte(DefaultConfigYAML()), FormatYAML, LoadOptions{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cfg.Evaluate("rm -rf /")
	}
}

func BenchmarkEvaluate_Default(b *testing.B) {
	cfg, _ := Parse([]byte(DefaultConfigYAML()), FormatYAML, LoadOptions{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cfg.Evaluate("nmap -sS 10.0.0.0/8")
	}
}

func BenchmarkEvaluateWithTrace(b *testing.B) {
	cfg, _ := Parse([]byte(DefaultConfigYAML()), FormatYAML, LoadOptions{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cfg.EvaluateWithTrace("nmap -sS 10.0.0.0/8")
	}
}
