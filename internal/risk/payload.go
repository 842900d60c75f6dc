package risk

import "encoding/json"

// ActionPayload — размеченное объединение известных форм payload-а.
// Risk Assessor-у нужна структура только там, где она влияет на оценку
// (bulk, privacy, financial); все остальное хранится как opaque blob
// для воспроизведения исполнителем.
type ActionPayload struct {
	// Признаки, влияющие на уровень риска
	Bulk            bool `json:"bulk,omitempty"`             // Массовая/мультизаписная операция
	RecordCount     int  `json:"record_count,omitempty"`     // >1 тоже считается bulk
	PrivacyImpact   bool `json:"privacy_impact,omitempty"`   // Персональные данные
	FinancialImpact bool `json:"financial_impact,omitempty"` // Денежные операции

	// Исходный payload целиком — для хранения и диспатча
	Raw json.RawMessage `json:"-"`
}

// DecodePayload достает рисковые признаки из сырого payload-а.
// Битый JSON не считается ошибкой оценки: признаки остаются нулевыми,
// blob сохраняется как есть.
func DecodePayload(raw json.RawMessage) ActionPayload {
	p := ActionPayload{Raw: raw}
	if len(raw) == 0 {
		return p
	}
	// Ошибку игнорируем сознательно: непарсящийся payload оценивается по шаблону
	_ = json.Unmarshal(raw, &p)
	return p
}

// IsBulk — операция затрагивает больше одной записи
func (p ActionPayload) IsBulk() bool {
	return p.Bulk || p.RecordCount > 1
}

// IsSensitive — приватные или финансовые данные
func (p ActionPayload) IsSensitive() bool {
	return p.PrivacyImpact || p.FinancialImpact
}
