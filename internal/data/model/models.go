// Package model holds the gorm records of the attestation ledger and its reports.
package model

// All returns every model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Token{},
		&Derivation{},
		&Attestation{},
		&Report{},
		&LinkPattern{},
		&Jobset{},
		&Evaluation{},
		&EvaluationDerivation{},
	}
}
