package api

// The processor adds fields over time, so unknown properties are accepted.
// Kind-specific requirements are enforced after decoding.
const webhookEventSchema = `{
  "type": "object",
  "required": ["eventType", "sourceObjectId"],
  "properties": {
    "eventType": {"type": "string", "minLength": 1, "maxLength": 128},
    "creatorId": {"type": ["string", "null"], "maxLength": 255},
    "sourceObjectId": {"type": "string", "minLength": 1, "maxLength": 255},
    "chargeId": {"type": "string", "maxLength": 255},
    "grossAmount": {"type": "integer", "minimum": 0},
    "refundedAmount": {"type": "integer", "minimum": 0},
    "feeAmount": {"type": "integer", "minimum": 0},
    "currency": {"type": "string", "maxLength": 3}
  }
}`
