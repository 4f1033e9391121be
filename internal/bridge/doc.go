// Package bridge connects a gateway session to MQTT.
//
// It publishes retained entity state on feedback from the gateway,
// publishes button/contact input events, routes inbound command topics
// to the matching entities, and reports bridge health with a Last Will
// so consumers can tell a dead bridge from a quiet one.
//
// Topic layout (prefix and gateway id from config):
//
//	<prefix>/<gateway>/dimmer/<id>/state    retained state JSON
//	<prefix>/<gateway>/dimmer/<id>/set      command JSON {"state":"on","level":180}
//	<prefix>/<gateway>/relay/<id>/state     retained state JSON
//	<prefix>/<gateway>/relay/<id>/set       command JSON {"state":"off"}
//	<prefix>/<gateway>/pulse/<id>/press     momentary trigger (payload ignored)
//	<prefix>/<gateway>/sensor/<id>/state    retained state JSON
//	<prefix>/<gateway>/scene/<id>/set       command JSON {"state":"on","level":128}
//	<prefix>/<gateway>/event                input events, not retained
//	<prefix>/<gateway>/bridge/state         retained health JSON, also the LWT topic
package bridge
