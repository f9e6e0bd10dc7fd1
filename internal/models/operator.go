package models

// Operator is a staff account allowed to read the attempt ledger.
type Operator struct {
	ID           string `json:"_id,omitempty"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Name         string `json:"name"`
	CreatedAt    string `json:"createdAt"`
}

type OperatorResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

func (o *Operator) ToResponse() OperatorResponse {
	return OperatorResponse{
		ID:        o.ID,
		Email:     o.Email,
		Name:      o.Name,
		CreatedAt: o.CreatedAt,
	}
}
