package signing

import "sort"

// requiredFieldIDs collects the ids of required fields assigned to the signer.
func requiredFieldIDs(session *SigningSession, signerEmail string) []string {
	var ids []string
	for i := range session.Fields {
		f := &session.Fields[i]
		if f.Required && f.SignerEmail == signerEmail {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// missingFieldIDs returns the required ids not covered by the submitted
// values, in stable order.
func missingFieldIDs(required []string, values []FieldValue) []string {
	provided := make(map[string]struct{}, len(values))
	for _, v := range values {
		provided[v.FieldID] = struct{}{}
	}
	var missing []string
	for _, id := range required {
		if _, ok := provided[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}

// applyFieldValues writes submitted values onto matching fields. A signer may
// only write to fields assigned to them; values addressed to unknown ids or
// to another signer's fields are silently ignored.
func applyFieldValues(session *SigningSession, signerEmail string, values []FieldValue) {
	byID := make(map[string]*SignatureField, len(session.Fields))
	for i := range session.Fields {
		byID[session.Fields[i].ID] = &session.Fields[i]
	}
	for _, v := range values {
		f, ok := byID[v.FieldID]
		if !ok || f.SignerEmail != signerEmail {
			continue
		}
		val := v.Value
		f.Value = &val
		if len(v.SignatureImage) > 0 {
			f.SignatureImage = append([]byte(nil), v.SignatureImage...)
		}
	}
}
