package auth

// Metrics は認証処理の計測インターフェース。
// metrics.Collectorが実装する。
type Metrics interface {
	RecordSessionCreated()
	RecordSessionValidation(result string)
	RecordSessionRenewed()
	RecordCallback(provider, outcome string)
	RecordRegistration(result string)
}

type nopMetrics struct{}

func (nopMetrics) RecordSessionCreated() {}
func (nopMetrics) RecordSessionValidation(result string) {}
func (nopMetrics) RecordSessionRenewed() {}
func (nopMetrics) RecordCallback(provider, outcome string) {}
func (nopMetrics) RecordRegistration(result string) {}
