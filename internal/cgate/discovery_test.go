package cgate

import (
	"encoding/json"
	"strings"
	"testing"
)

const kitchenTreeXML = `<Network>
  <Interface>
    <Network>
      <NetworkNumber>254</NetworkNumber>
      <Unit>
        <Application>
          <ApplicationAddress>56</ApplicationAddress>
          <Group>
            <GroupAddress>7</GroupAddress>
            <Label>Kitchen</Label>
          </Group>
        </Application>
      </Unit>
    </Network>
  </Interface>
</Network>`

func TestDiscovery_KitchenLight(t *testing.T) {
	var published []Publication
	d := NewDiscovery(DiscoveryConfig{}, nil, func(string) error { return nil }, func(p Publication) {
		published = append(published, p)
	})

	d.HandleTreeData("254", kitchenTreeXML)

	var configPub *Publication
	for i, p := range published {
		if p.Topic == "homeassistant/light/cgateweb_254_56_7/config" {
			configPub = &published[i]
		}
	}
	if configPub == nil {
		t.Fatalf("no discovery config publication found; got %+v", published)
	}
	if !configPub.Retain {
		t.Error("discovery config publication must be retained")
	}

	var payload discoveryPayload
	if err := json.Unmarshal([]byte(configPub.Payload), &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if payload.UniqueID != "cgateweb_254_56_7" {
		t.Errorf("unique_id = %q, want cgateweb_254_56_7", payload.UniqueID)
	}
	if payload.Name != "Kitchen" {
		t.Errorf("name = %q, want Kitchen", payload.Name)
	}
	if payload.CommandTopic != "cbus/write/254/56/7/ramp" {
		t.Errorf("command_topic = %q", payload.CommandTopic)
	}
}

func TestDiscovery_PublishesTreeSnapshot(t *testing.T) {
	var published []Publication
	d := NewDiscovery(DiscoveryConfig{}, nil, func(string) error { return nil }, func(p Publication) {
		published = append(published, p)
	})

	d.HandleTreeData("254", kitchenTreeXML)

	found := false
	for _, p := range published {
		if p.Topic == "cbus/read/254///tree" {
			found = true
			if !p.Retain {
				t.Error("tree snapshot must be retained")
			}
			if !strings.Contains(p.Payload, "254") {
				t.Errorf("tree snapshot payload = %q, expected to reference network", p.Payload)
			}
		}
	}
	if !found {
		t.Fatal("no tree snapshot publication found")
	}
}

func TestDiscovery_NetworkNumberMismatchAbandonsDiscovery(t *testing.T) {
	var published []Publication
	d := NewDiscovery(DiscoveryConfig{}, nil, func(string) error { return nil }, func(p Publication) {
		published = append(published, p)
	})

	d.HandleTreeData("999", kitchenTreeXML) // tree claims network 254

	if len(published) != 0 {
		t.Errorf("expected no publications on network mismatch, got %+v", published)
	}
}

func TestDiscovery_MalformedXMLAbandonsDiscovery(t *testing.T) {
	var published []Publication
	d := NewDiscovery(DiscoveryConfig{}, nil, func(string) error { return nil }, func(p Publication) {
		published = append(published, p)
	})

	d.HandleTreeData("254", "<Network><Interface><Network>not valid xml")

	if len(published) != 0 {
		t.Errorf("expected no publications on parse failure, got %+v", published)
	}
}

func TestDiscovery_EmptyGroupAddressSkipped(t *testing.T) {
	const xmlData = `<Network>
  <Interface>
    <Network>
      <NetworkNumber>254</NetworkNumber>
      <Unit>
        <Application>
          <ApplicationAddress>56</ApplicationAddress>
          <Group>
            <GroupAddress></GroupAddress>
            <Label>Unused</Label>
          </Group>
        </Application>
      </Unit>
    </Network>
  </Interface>
</Network>`

	var published []Publication
	d := NewDiscovery(DiscoveryConfig{}, nil, func(string) error { return nil }, func(p Publication) {
		published = append(published, p)
	})

	d.HandleTreeData("254", xmlData)

	for _, p := range published {
		if strings.Contains(p.Topic, "/config") {
			t.Errorf("expected no discovery config publication for empty group address, got %+v", p)
		}
	}
}

func TestDiscovery_CoverSwitchRelayPIRClassification(t *testing.T) {
	const xmlData = `<Network>
  <Interface>
    <Network>
      <NetworkNumber>254</NetworkNumber>
      <Unit>
        <Application>
          <ApplicationAddress>203</ApplicationAddress>
          <Group><GroupAddress>1</GroupAddress><Label>Blind</Label></Group>
        </Application>
        <Application>
          <ApplicationAddress>202</ApplicationAddress>
          <Group><GroupAddress>2</GroupAddress><Label>Switch</Label></Group>
        </Application>
        <Application>
          <ApplicationAddress>204</ApplicationAddress>
          <Group><GroupAddress>3</GroupAddress><Label>Relay</Label></Group>
        </Application>
        <Application>
          <ApplicationAddress>228</ApplicationAddress>
          <Group><GroupAddress>4</GroupAddress><Label>PIR</Label></Group>
        </Application>
      </Unit>
    </Network>
  </Interface>
</Network>`

	var published []Publication
	d := NewDiscovery(DiscoveryConfig{
		CoverAppID: "203", SwitchAppID: "202", RelayAppID: "204", PirAppID: "228",
	}, nil, func(string) error { return nil }, func(p Publication) { published = append(published, p) })

	d.HandleTreeData("254", xmlData)

	want := map[string]string{
		"homeassistant/cover/cgateweb_254_203_1/config":         "",
		"homeassistant/switch/cgateweb_254_202_2/config":        "",
		"homeassistant/switch/cgateweb_254_204_3/config":        "",
		"homeassistant/binary_sensor/cgateweb_254_228_4/config": "",
	}
	for topic := range want {
		found := false
		for _, p := range published {
			if p.Topic == topic {
				found = true
			}
		}
		if !found {
			t.Errorf("missing expected discovery publication for topic %q", topic)
		}
	}

	var pirPayload discoveryPayload
	for _, p := range published {
		if p.Topic == "homeassistant/binary_sensor/cgateweb_254_228_4/config" {
			if err := json.Unmarshal([]byte(p.Payload), &pirPayload); err != nil {
				t.Fatalf("pir payload not valid JSON: %v", err)
			}
		}
	}
	if pirPayload.CommandTopic != "" {
		t.Errorf("PIR binary_sensor should have no command_topic, got %q", pirPayload.CommandTopic)
	}
}

func TestDiscovery_RequestTreeEnqueuesTREEXML(t *testing.T) {
	var got string
	d := NewDiscovery(DiscoveryConfig{}, nil, func(line string) error {
		got = line
		return nil
	}, func(Publication) {})

	if err := d.RequestTree("254"); err != nil {
		t.Fatalf("RequestTree() error: %v", err)
	}
	if got != "TREEXML 254\n" {
		t.Errorf("enqueued line = %q, want %q", got, "TREEXML 254\n")
	}
}
